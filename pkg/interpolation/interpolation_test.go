package interpolation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time {
	return time.Date(2021, 1, 10, 12, 30, 0, 0, time.UTC)
}

func TestEval(t *testing.T) {
	ctx := Context{
		Config: map[string]any{
			"start_date": "2021-01-01",
			"lookback":   "P2D",
			"nested":     map[string]any{"value": "deep"},
			"page_size":  100,
			"empty":      "",
			"dotted.key": "dots",
		},
		StreamState: map[string]any{"updated_at": "2021-01-05"},
		StreamSlice: map[string]string{"start_time": "2021-01-02", "end_time": "2021-01-03"},
	}
	e := New(WithClock(fixedClock))

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{name: "plain string", template: "2021-01-01", want: "2021-01-01"},
		{name: "bracket access", template: "{{ config['start_date'] }}", want: "2021-01-01"},
		{name: "double quoted bracket", template: `{{ config["start_date"] }}`, want: "2021-01-01"},
		{name: "dot access", template: "{{ config.start_date }}", want: "2021-01-01"},
		{name: "nested", template: "{{ config['nested']['value'] }}", want: "deep"},
		{name: "number", template: "{{ config.page_size }}", want: "100"},
		{name: "dotted key", template: "{{ config['dotted.key'] }}", want: "dots"},
		{name: "stream state", template: "{{ stream_state['updated_at'] }}", want: "2021-01-05"},
		{name: "stream slice", template: "{{ stream_slice.start_time }}", want: "2021-01-02"},
		{name: "stream interval alias", template: "{{ stream_interval['end_time'] }}", want: "2021-01-03"},
		{name: "missing key", template: "{{ config['missing'] }}", want: ""},
		{name: "or fallback", template: "{{ config['missing'] or 'P0D' }}", want: "P0D"},
		{name: "or fallback on empty", template: "{{ config.empty or config.lookback }}", want: "P2D"},
		{name: "or first truthy", template: "{{ config.lookback or 'P0D' }}", want: "P2D"},
		{name: "literal with or inside quotes", template: "{{ 'black or white' }}", want: "black or white"},
		{name: "surrounding text", template: "from {{ config.start_date }} on", want: "from 2021-01-01 on"},
		{name: "two expressions", template: "{{ config.start_date }}/{{ stream_state.updated_at }}", want: "2021-01-01/2021-01-05"},
		{name: "now", template: "{{ now_utc() }}", want: "2021-01-10T12:30:00.000000Z"},
		{name: "today", template: "{{ today_utc() }}", want: "2021-01-10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Eval(tt.template, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalEmptyContext(t *testing.T) {
	got, err := New().Eval("{{ stream_state['updated_at'] }}", Context{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEvalErrors(t *testing.T) {
	e := New()
	for _, template := range []string{
		"{{ config['a'] ",
		"{{ unknown.key }}",
		"{{ config[ }}",
		"{{ }}",
		"{{ config..a }}",
	} {
		t.Run(template, func(t *testing.T) {
			_, err := e.Eval(template, Context{})
			assert.Error(t, err)
		})
	}
}

func TestIsTemplate(t *testing.T) {
	assert.True(t, IsTemplate("{{ config.a }}"))
	assert.False(t, IsTemplate("2021-01-01"))
}
