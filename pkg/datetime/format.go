package datetime

import (
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ajitpratap0/nebula-cdk/pkg/errors"
)

// DefaultFormat is used when a cursor does not configure a datetime format.
const DefaultFormat = "%Y-%m-%dT%H:%M:%S.%f%z"

// Whole-value formats that are not strftime layouts.
const (
	FormatEpochSeconds      = "%s"
	FormatEpochMilliseconds = "%ms"
	FormatEpochFloat        = "%s_as_float"
)

var directives = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'e': "_2",
	'H': "15",
	'I': "03",
	'M': "04",
	'S': "05",
	'p': "PM",
	'z': "-0700",
	'Z': "MST",
	'b': "Jan",
	'h': "Jan",
	'B': "January",
	'a': "Mon",
	'A': "Monday",
	'j': "002",
	'F': "2006-01-02",
	'T': "15:04:05",
	'D': "01/02/06",
	'%': "%",
}

var layouts sync.Map // strftime format -> Go layout

// Layout translates a strftime format into a Go reference layout.
func Layout(format string) (string, error) {
	if cached, ok := layouts.Load(format); ok {
		return cached.(string), nil
	}

	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			if c >= '0' && c <= '9' {
				return "", errors.New(errors.ErrorTypeConfig, "literal digits are not supported in datetime formats").
					WithDetail("format", format)
			}
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(format) {
			return "", errors.New(errors.ErrorTypeConfig, "datetime format ends with a bare %").
				WithDetail("format", format)
		}
		i++
		if format[i] == 'f' {
			// Go only understands fractional seconds directly after a separator
			if !strings.HasSuffix(b.String(), ".") && !strings.HasSuffix(b.String(), ",") {
				return "", errors.New(errors.ErrorTypeConfig, "%f must follow a '.' or ','").
					WithDetail("format", format)
			}
			b.WriteString("000000")
			continue
		}
		layout, ok := directives[format[i]]
		if !ok {
			return "", errors.Newf(errors.ErrorTypeConfig, "unsupported datetime directive %%%c", format[i]).
				WithDetail("format", format)
		}
		b.WriteString(layout)
	}

	layout := b.String()
	layouts.Store(format, layout)
	return layout, nil
}

// ValidateFormat reports whether format can be used for Format and Parse.
func ValidateFormat(format string) error {
	switch format {
	case FormatEpochSeconds, FormatEpochMilliseconds, FormatEpochFloat:
		return nil
	}
	_, err := Layout(format)
	return err
}

// Format renders t in UTC using a strftime format. An invalid format renders
// as the empty string; validate formats at construction with ValidateFormat.
func Format(t time.Time, format string) string {
	t = t.UTC()
	switch format {
	case FormatEpochSeconds:
		return strconv.FormatInt(t.Unix(), 10)
	case FormatEpochMilliseconds:
		return strconv.FormatInt(t.UnixMilli(), 10)
	case FormatEpochFloat:
		return strconv.FormatFloat(float64(t.UnixMicro())/1e6, 'f', -1, 64)
	}

	layout, err := Layout(format)
	if err != nil {
		return ""
	}
	return t.Format(layout)
}

// Parse reads value using a strftime format and returns the instant in UTC.
func Parse(value, format string) (time.Time, error) {
	value = strings.TrimSpace(value)
	switch format {
	case FormatEpochSeconds, FormatEpochFloat:
		secs, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return time.Time{}, parseError(err, value, format)
		}
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(math.Round(frac*1e6))*int64(time.Microsecond)).UTC(), nil
	case FormatEpochMilliseconds:
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, parseError(err, value, format)
		}
		return time.UnixMilli(ms).UTC(), nil
	}

	layout, err := Layout(format)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(layout, value)
	if err != nil {
		return time.Time{}, parseError(err, value, format)
	}
	return t.UTC(), nil
}

// ParseAny tries each format in order and returns the first successful parse.
func ParseAny(value string, formats ...string) (time.Time, error) {
	var lastErr error
	for _, f := range formats {
		t, err := Parse(value, f)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New(errors.ErrorTypeConfig, "no datetime formats configured")
	}
	return time.Time{}, lastErr
}

func parseError(err error, value, format string) error {
	return errors.Wrap(err, errors.ErrorTypeData, "failed to parse datetime").
		WithDetail("value", value).
		WithDetail("format", format)
}
