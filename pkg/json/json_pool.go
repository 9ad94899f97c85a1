// Package json wraps goccy/go-json with pooled buffers and a streaming
// encoder for emitting records.
package json

import (
	"bytes"
	"io"
	"sync"

	gojson "github.com/goccy/go-json"
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// GetBuffer gets a pooled bytes.Buffer
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 1024*1024 { // Don't pool very large buffers
		return
	}
	bufferPool.Put(buf)
}

// Marshal is a drop-in replacement for json.Marshal
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// Unmarshal is a drop-in replacement for json.Unmarshal
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// MarshalIndent is a drop-in replacement for json.MarshalIndent
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// StreamingEncoder writes values as JSON lines, or as one JSON array when
// isArray is set. Each value is encoded into a pooled buffer and written
// with a single Write, so a failed encode leaves no partial output. Safe for
// concurrent use.
type StreamingEncoder struct {
	mu          sync.Mutex
	writer      io.Writer
	firstRecord bool
	isArray     bool
	count       int64
}

// NewStreamingEncoder creates a new streaming encoder
func NewStreamingEncoder(w io.Writer, isArray bool) *StreamingEncoder {
	return &StreamingEncoder{
		writer:      w,
		firstRecord: true,
		isArray:     isArray,
	}
}

// Encode encodes a single value
func (se *StreamingEncoder) Encode(v interface{}) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	enc := gojson.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}

	se.mu.Lock()
	defer se.mu.Unlock()

	if se.isArray {
		out := bytes.TrimRight(buf.Bytes(), "\n")
		sep := byte(',')
		if se.firstRecord {
			sep = '['
		}
		if _, err := se.writer.Write(append([]byte{sep}, out...)); err != nil {
			return err
		}
	} else if _, err := se.writer.Write(buf.Bytes()); err != nil {
		return err
	}
	se.firstRecord = false
	se.count++
	return nil
}

// Count returns the number of values written.
func (se *StreamingEncoder) Count() int64 {
	se.mu.Lock()
	defer se.mu.Unlock()
	return se.count
}

// Close finalizes the encoding
func (se *StreamingEncoder) Close() error {
	se.mu.Lock()
	defer se.mu.Unlock()

	if !se.isArray {
		return nil
	}
	closing := []byte("]\n")
	if se.firstRecord {
		closing = []byte("[]\n")
	}
	_, err := se.writer.Write(closing)
	return err
}
