package pipeline

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/ajitpratap0/nebula-cdk/pkg/incremental"
	jsonpool "github.com/ajitpratap0/nebula-cdk/pkg/json"
)

// Message types written by JSONLinesSink.
const (
	MessageRecord = "RECORD"
	MessageState  = "STATE"
)

// Sink receives records and checkpoints in the order they are produced.
type Sink interface {
	WriteRecord(ctx context.Context, stream string, record incremental.Record) error
	WriteState(ctx context.Context, stream string, state incremental.StreamState) error
}

// Message is one line of sink output.
type Message struct {
	Type      string                  `json:"type"`
	Stream    string                  `json:"stream"`
	Record    incremental.Record      `json:"record,omitempty"`
	State     incremental.StreamState `json:"state,omitempty"`
	EmittedAt int64                   `json:"emitted_at"`
}

// JSONLinesSink writes one JSON message per line.
type JSONLinesSink struct {
	enc *jsonpool.StreamingEncoder
	now func() time.Time
}

// NewJSONLinesSink writes messages to w.
func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	return &JSONLinesSink{enc: jsonpool.NewStreamingEncoder(w, false), now: time.Now}
}

// WriteRecord implements Sink.
func (s *JSONLinesSink) WriteRecord(_ context.Context, stream string, record incremental.Record) error {
	return s.enc.Encode(Message{Type: MessageRecord, Stream: stream, Record: record, EmittedAt: s.now().UnixMilli()})
}

// WriteState implements Sink.
func (s *JSONLinesSink) WriteState(_ context.Context, stream string, state incremental.StreamState) error {
	return s.enc.Encode(Message{Type: MessageState, Stream: stream, State: state, EmittedAt: s.now().UnixMilli()})
}

// Count returns the number of messages written.
func (s *JSONLinesSink) Count() int64 { return s.enc.Count() }

// CollectSink keeps everything in memory.
type CollectSink struct {
	mu      sync.Mutex
	Records []incremental.Record
	States  []incremental.StreamState
}

// WriteRecord implements Sink.
func (s *CollectSink) WriteRecord(_ context.Context, _ string, record incremental.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Records = append(s.Records, record)
	return nil
}

// WriteState implements Sink.
func (s *CollectSink) WriteState(_ context.Context, _ string, state incremental.StreamState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.States = append(s.States, state)
	return nil
}
