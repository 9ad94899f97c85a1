// Package incremental implements the datetime-based cursor that partitions a
// sync into time windows, resumes from persisted state, and injects slice
// boundaries into outgoing requests.
package incremental

import (
	"strconv"
	"time"

	gojson "github.com/goccy/go-json"
)

// Default partition field names used in stream slices.
const (
	DefaultPartitionFieldStart = "start_time"
	DefaultPartitionFieldEnd   = "end_time"
)

// StreamSlice holds the formatted boundaries of one window keyed by the
// configured partition field names.
type StreamSlice map[string]string

// StreamState is the opaque state map persisted between syncs.
type StreamState map[string]any

// Record is a single record read from the upstream API.
type Record map[string]any

// TimeWindow is one slice of the overall sync range. Both ends are inclusive.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// CursorState is the durable bookmark of a stream.
type CursorState struct {
	CursorField string
	CursorValue *string
}

// Map renders the state as {cursor_field: cursor_value}, or an empty map when
// no value has been recorded yet.
func (s CursorState) Map() StreamState {
	if s.CursorValue == nil {
		return StreamState{}
	}
	return StreamState{s.CursorField: *s.CursorValue}
}

// MarshalJSON encodes the state in its map form.
func (s CursorState) MarshalJSON() ([]byte, error) {
	return gojson.Marshal(s.Map())
}

// scalarString renders a record or state value as a string. Numbers are
// accepted so that epoch formats work with numeric fields.
func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, t != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case interface{ String() string }:
		return t.String(), true
	default:
		return "", false
	}
}
