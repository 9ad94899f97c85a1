package json

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecords(n int) []map[string]interface{} {
	records := make([]map[string]interface{}, n)
	for i := 0; i < n; i++ {
		records[i] = map[string]interface{}{
			"id":         i,
			"updated_at": "2021-01-01T00:00:00Z",
			"tags":       []string{"a", "b"},
		}
	}
	return records
}

func TestStreamingEncoderLines(t *testing.T) {
	var buf bytes.Buffer
	se := NewStreamingEncoder(&buf, false)
	require.NoError(t, se.Encode(map[string]interface{}{"id": 1, "url": "a&b"}))
	require.NoError(t, se.Encode(map[string]interface{}{"id": 2}))
	require.NoError(t, se.Close())

	assert.Equal(t, "{\"id\":1,\"url\":\"a&b\"}\n{\"id\":2}\n", buf.String())
	assert.Equal(t, int64(2), se.Count())
}

func TestStreamingEncoderArray(t *testing.T) {
	var buf bytes.Buffer
	se := NewStreamingEncoder(&buf, true)
	for _, r := range testRecords(3) {
		require.NoError(t, se.Encode(r))
	}
	require.NoError(t, se.Close())

	var decoded []map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Len(t, decoded, 3)

	buf.Reset()
	empty := NewStreamingEncoder(&buf, true)
	require.NoError(t, empty.Close())
	assert.Equal(t, "[]\n", buf.String())
}

func TestStreamingEncoderFailedEncodeWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	se := NewStreamingEncoder(&buf, false)
	err := se.Encode(map[string]interface{}{"ch": make(chan int)})
	assert.Error(t, err)
	assert.Zero(t, buf.Len())
	assert.Zero(t, se.Count())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestStreamingEncoderWriteError(t *testing.T) {
	se := NewStreamingEncoder(failingWriter{}, false)
	assert.EqualError(t, se.Encode(1), "disk full")
}

func TestStreamingEncoderConcurrent(t *testing.T) {
	var buf bytes.Buffer
	se := NewStreamingEncoder(&buf, false)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = se.Encode(map[string]int{"worker": i, "n": j})
			}
		}(i)
	}
	wg.Wait()

	lines := bytes.Split(bytes.TrimRight(buf.Bytes(), "\n"), []byte("\n"))
	assert.Len(t, lines, 400)
	for _, line := range lines {
		assert.True(t, json.Valid(line))
	}
}

func TestMarshalCorrectness(t *testing.T) {
	for _, r := range testRecords(5) {
		std, err := json.Marshal(r)
		require.NoError(t, err)
		ours, err := Marshal(r)
		require.NoError(t, err)
		assert.JSONEq(t, string(std), string(ours))

		var back map[string]interface{}
		require.NoError(t, Unmarshal(ours, &back))
		assert.Equal(t, r["updated_at"], back["updated_at"])
	}
}

func BenchmarkStdMarshal(b *testing.B) {
	records := testRecords(100)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, r := range records {
			_, _ = json.Marshal(r)
		}
	}
}

func BenchmarkStreamingEncoder(b *testing.B) {
	records := testRecords(100)
	var buf bytes.Buffer
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		se := NewStreamingEncoder(&buf, false)
		for _, r := range records {
			_ = se.Encode(r)
		}
	}
}
