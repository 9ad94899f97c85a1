package incremental

import (
	"time"

	"github.com/ajitpratap0/nebula-cdk/pkg/datetime"
	"github.com/ajitpratap0/nebula-cdk/pkg/errors"
	"github.com/ajitpratap0/nebula-cdk/pkg/interpolation"
)

// fallbackLayouts are tried after the configured format so that values
// produced by now_utc() and today_utc() always parse.
var fallbackLayouts = []string{
	time.RFC3339Nano,
	interpolation.NowLayout,
	interpolation.TodayLayout,
}

// MinMaxDatetime is a templated datetime bound, optionally clamped between
// templated minimum and maximum values.
type MinMaxDatetime struct {
	Datetime       string `mapstructure:"datetime" yaml:"datetime"`
	DatetimeFormat string `mapstructure:"datetime_format" yaml:"datetime_format,omitempty"`
	MinDatetime    string `mapstructure:"min_datetime" yaml:"min_datetime,omitempty"`
	MaxDatetime    string `mapstructure:"max_datetime" yaml:"max_datetime,omitempty"`
}

// IsSet reports whether a datetime template was configured.
func (m MinMaxDatetime) IsSet() bool {
	return m.Datetime != ""
}

// Resolve evaluates the bound against ctx and clamps it to [min, max].
func (m MinMaxDatetime) Resolve(eval *interpolation.Evaluator, ctx interpolation.Context) (time.Time, error) {
	t, err := m.evalTime(eval, m.Datetime, ctx)
	if err != nil {
		return time.Time{}, err
	}

	if m.MinDatetime != "" {
		lo, err := m.evalTime(eval, m.MinDatetime, ctx)
		if err != nil {
			return time.Time{}, err
		}
		t = datetime.Max(t, lo)
	}
	if m.MaxDatetime != "" {
		hi, err := m.evalTime(eval, m.MaxDatetime, ctx)
		if err != nil {
			return time.Time{}, err
		}
		t = datetime.Min(t, hi)
	}
	return t, nil
}

func (m MinMaxDatetime) evalTime(eval *interpolation.Evaluator, tmpl string, ctx interpolation.Context) (time.Time, error) {
	value, err := eval.Eval(tmpl, ctx)
	if err != nil {
		return time.Time{}, err
	}
	if value == "" {
		return time.Time{}, errors.New(errors.ErrorTypeData, "datetime bound evaluated to an empty value").
			WithDetail("template", tmpl)
	}

	format := m.DatetimeFormat
	if format == "" {
		format = datetime.DefaultFormat
	}
	t, perr := datetime.Parse(value, format)
	if perr == nil {
		return t, nil
	}
	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, perr
}
