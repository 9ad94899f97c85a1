// Package datetime implements the calendar arithmetic the incremental cursor
// relies on: ISO-8601 durations applied in UTC, strftime-style formatting and
// parsing, and the representable instant range.
package datetime

import (
	"math"
	"strings"
	"time"

	"github.com/sosodev/duration"

	"github.com/ajitpratap0/nebula-cdk/pkg/errors"
)

var (
	// MinTime is the earliest instant a cursor can hold.
	MinTime = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	// MaxTime is the latest instant a cursor can hold. Arithmetic that would
	// go past it clamps to it.
	MaxTime = time.Date(9999, time.December, 31, 23, 59, 59, 999999000, time.UTC)
)

// Duration is a calendar-aware ISO-8601 duration. Years and weeks are folded
// into Months and Days so that P1M and P1Y step by calendar months.
type Duration struct {
	Months int
	Days   int
	Clock  time.Duration
}

// ParseDuration parses an ISO-8601 duration such as "P1D", "PT1H", "P1M" or
// "PT0.000001S". Empty input parses to the zero duration.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Duration{}, nil
	}

	parsed, err := duration.Parse(s)
	if err != nil {
		return Duration{}, errors.Wrap(err, errors.ErrorTypeConfig, "invalid ISO-8601 duration").
			WithDetail("duration", s)
	}

	years, err := whole(parsed.Years, "years", s)
	if err != nil {
		return Duration{}, err
	}
	months, err := whole(parsed.Months, "months", s)
	if err != nil {
		return Duration{}, err
	}
	weeks, err := whole(parsed.Weeks, "weeks", s)
	if err != nil {
		return Duration{}, err
	}
	days, err := whole(parsed.Days, "days", s)
	if err != nil {
		return Duration{}, err
	}

	nanos := parsed.Hours*float64(time.Hour) +
		parsed.Minutes*float64(time.Minute) +
		parsed.Seconds*float64(time.Second)
	if nanos > math.MaxInt64 {
		return Duration{}, errors.New(errors.ErrorTypeConfig, "duration time component is too large").
			WithDetail("duration", s)
	}

	d := Duration{
		Months: years*12 + months,
		Days:   weeks*7 + days,
		Clock:  time.Duration(math.Round(nanos)),
	}
	if parsed.Negative {
		d = d.Negate()
	}
	return d, nil
}

// MustParseDuration is like ParseDuration but panics on error. Intended for
// constants in tests and defaults.
func MustParseDuration(s string) Duration {
	d, err := ParseDuration(s)
	if err != nil {
		panic(err)
	}
	return d
}

func whole(v float64, unit, raw string) (int, error) {
	if v != math.Trunc(v) {
		return 0, errors.Newf(errors.ErrorTypeConfig, "fractional %s are not supported", unit).
			WithDetail("duration", raw)
	}
	return int(v), nil
}

// IsZero reports whether d has no effect on an instant.
func (d Duration) IsZero() bool {
	return d.Months == 0 && d.Days == 0 && d.Clock == 0
}

// Negate returns -d.
func (d Duration) Negate() Duration {
	return Duration{Months: -d.Months, Days: -d.Days, Clock: -d.Clock}
}

// IsPositive reports whether adding d moves an instant forward.
func (d Duration) IsPositive() bool {
	ref := time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	return d.AddTo(ref).After(ref)
}

// AddTo returns t+d. Month arithmetic clamps the day of month, so
// 2021-01-31 + P1M is 2021-02-28. The result is clamped to [MinTime, MaxTime].
func (d Duration) AddTo(t time.Time) time.Time {
	t = t.UTC()
	if d.Months != 0 {
		t = addMonths(t, d.Months)
	}
	if d.Days != 0 {
		t = t.AddDate(0, 0, d.Days)
	}
	t = t.Add(d.Clock)
	return Clamp(t)
}

// SubtractFrom returns t-d, clamped like AddTo.
func (d Duration) SubtractFrom(t time.Time) time.Time {
	return d.Negate().AddTo(t)
}

// String renders d back into ISO-8601 form.
func (d Duration) String() string {
	if d.IsZero() {
		return "PT0S"
	}
	out := &duration.Duration{
		Months:  float64(d.Months),
		Days:    float64(d.Days),
		Seconds: d.Clock.Seconds(),
	}
	if d.Months < 0 || d.Days < 0 || d.Clock < 0 {
		out = &duration.Duration{
			Months:   float64(-d.Months),
			Days:     float64(-d.Days),
			Seconds:  -d.Clock.Seconds(),
			Negative: true,
		}
	}
	return out.String()
}

// Clamp bounds t to the representable range.
func Clamp(t time.Time) time.Time {
	if t.After(MaxTime) {
		return MaxTime
	}
	if t.Before(MinTime) {
		return MinTime
	}
	return t
}

// Min returns the earlier of a and b.
func Min(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}

// Max returns the later of a and b.
func Max(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func addMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	total := int(month) - 1 + months
	year += floorDiv(total, 12)
	month = time.Month(floorMod(total, 12) + 1)

	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, hour, minute, sec, t.Nanosecond(), time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	return a - floorDiv(a, b)*b
}
