package datetime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	jan1 := date(2021, 1, 1)

	tests := []struct {
		format string
		want   string
	}{
		{format: DefaultFormat, want: "2021-01-01T00:00:00.000000+0000"},
		{format: "%Y-%m-%d", want: "2021-01-01"},
		{format: "%Y%m%d", want: "20210101"},
		{format: "%s", want: "1609459200"},
		{format: "%ms", want: "1609459200000"},
		{format: "%Y-%m-%dT%H:%M:%SZ", want: "2021-01-01T00:00:00Z"},
		{format: "%d/%m/%Y %H:%M", want: "01/01/2021 00:00"},
		{format: "%F %T", want: "2021-01-01 00:00:00"},
		{format: "%b %d, %Y", want: "Jan 01, 2021"},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(jan1, tt.format))
		})
	}
}

func TestFormatConvertsToUTC(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	in := time.Date(2021, 1, 1, 19, 0, 0, 0, est)
	assert.Equal(t, "2021-01-02T00:00:00.000000+0000", Format(in, DefaultFormat))
}

func TestFormatInvalidLayoutIsEmpty(t *testing.T) {
	assert.Empty(t, Format(date(2021, 1, 1), "%Q"))
}

func TestParse(t *testing.T) {
	tests := []struct {
		value  string
		format string
		want   time.Time
	}{
		{value: "2021-01-01T00:00:00.000000+0000", format: DefaultFormat, want: date(2021, 1, 1)},
		{value: "2021-01-01T05:00:00.000000+0500", format: DefaultFormat, want: date(2021, 1, 1)},
		{value: "2021-01-01T00:00:00.000001+0000", format: DefaultFormat, want: date(2021, 1, 1).Add(time.Microsecond)},
		{value: "2021-01-05", format: "%Y-%m-%d", want: date(2021, 1, 5)},
		{value: "20210105", format: "%Y%m%d", want: date(2021, 1, 5)},
		{value: "1609459200", format: "%s", want: date(2021, 1, 1)},
		{value: "1609459200000", format: "%ms", want: date(2021, 1, 1)},
		{value: "1609459200.5", format: "%s_as_float", want: date(2021, 1, 1).Add(500 * time.Millisecond)},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := Parse(tt.value, tt.format)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("not a date", "%Y-%m-%d")
	assert.Error(t, err)

	_, err = Parse("abc", "%s")
	assert.Error(t, err)

	_, err = Parse("2021-01-01", "%Q")
	assert.Error(t, err)
}

func TestParseAny(t *testing.T) {
	got, err := ParseAny("2021-01-05", DefaultFormat, "%Y-%m-%d")
	require.NoError(t, err)
	assert.Equal(t, date(2021, 1, 5), got)

	_, err = ParseAny("2021-01-05")
	assert.Error(t, err)

	_, err = ParseAny("garbage", "%Y-%m-%d", "%s")
	assert.Error(t, err)
}

func TestLayout(t *testing.T) {
	layout, err := Layout(DefaultFormat)
	require.NoError(t, err)
	assert.Equal(t, "2006-01-02T15:04:05.000000-0700", layout)

	_, err = Layout("%Y-%m-%d %f")
	assert.Error(t, err, "%f without a separator")

	_, err = Layout("%Y 2021")
	assert.Error(t, err, "literal digits")

	_, err = Layout("%Y%")
	assert.Error(t, err, "trailing percent")

	assert.NoError(t, ValidateFormat("%s"))
	assert.NoError(t, ValidateFormat("%ms"))
	assert.Error(t, ValidateFormat("%Q"))
}
