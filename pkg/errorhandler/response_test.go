package errorhandler

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResponseDecompresses(t *testing.T) {
	payload := []byte(`{"message":"rate limited"}`)

	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	_, err := w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	zst := enc.EncodeAll(payload, nil)
	require.NoError(t, enc.Close())

	tests := []struct {
		encoding string
		body     []byte
	}{
		{encoding: "", body: payload},
		{encoding: "gzip", body: gz.Bytes()},
		{encoding: "zstd", body: zst},
	}

	for _, tt := range tests {
		t.Run(tt.encoding, func(t *testing.T) {
			raw := &http.Response{
				StatusCode: 429,
				Header:     http.Header{"Content-Encoding": []string{tt.encoding}},
				Body:       io.NopCloser(bytes.NewReader(tt.body)),
			}
			resp, err := NewResponse(raw)
			require.NoError(t, err)
			assert.Equal(t, payload, resp.Body)
			assert.Equal(t, "rate limited", resp.ErrorMessage())
		})
	}
}

func TestNewResponseUnknownEncoding(t *testing.T) {
	raw := &http.Response{
		StatusCode: 200,
		Header:     http.Header{"Content-Encoding": []string{"br"}},
		Body:       io.NopCloser(bytes.NewReader(nil)),
	}
	_, err := NewResponse(raw)
	assert.Error(t, err)
}

func TestNewResponseFromServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"detail":"maintenance"}`))
	}))
	defer srv.Close()

	raw, err := http.Get(srv.URL + "/items?b=2&a=1")
	require.NoError(t, err)
	resp, err := NewResponse(raw)
	require.NoError(t, err)

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "maintenance", resp.ErrorMessage())
	assert.Equal(t, "GET "+srv.URL+"/items?a=1&b=2", resp.Signature())
}

func TestResponseJSON(t *testing.T) {
	resp := testResponse(200, "https://api.example.com", nil, `{"data":[1,2]}`)
	v, err := resp.JSON()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"data": []any{float64(1), float64(2)}}, v)

	bad := testResponse(200, "https://api.example.com", nil, `{"data":`)
	_, err = bad.JSON()
	assert.Error(t, err)
	assert.False(t, bad.IsJSON())

	empty := testResponse(204, "https://api.example.com", nil, "")
	v, err = empty.JSON()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestErrorMessageExtraction(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{body: `{"message":"plain"}`, want: "plain"},
		{body: `{"error":{"message":"nested"}}`, want: "nested"},
		{body: `{"errors":["one","two"]}`, want: "one, two"},
		{body: `{"errors":[{"detail":"first"},{"msg":"second"}]}`, want: "first, second"},
		{body: `{"reason":"quota"}`, want: "quota"},
		{body: `{"unrelated":true}`, want: ""},
		{body: `not json`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			assert.Equal(t, tt.want, testResponse(400, "https://api.example.com", nil, tt.body).ErrorMessage())
		})
	}
}

func TestSignatureOverride(t *testing.T) {
	resp := testResponse(500, "https://api.example.com/orders", nil, "")
	resp.RequestKey = "orders:page-3"
	assert.Equal(t, "orders:page-3", resp.Signature())

	assert.Equal(t, "", (&Response{}).Signature())
}

func TestResponseStatusValueSemantics(t *testing.T) {
	assert.True(t, Retry(60).Equal(Retry(60)))
	assert.False(t, Retry(60).Equal(Retry(61)))
	assert.False(t, Fail().Equal(Ignore()))
	assert.Equal(t, "RETRY(1m0s)", Retry(60*1e9).String())
	assert.Equal(t, "IGNORE", Ignore().String())

	a, err := ParseAction("retry")
	require.NoError(t, err)
	assert.Equal(t, ActionRetry, a)
	_, err = ParseAction("maybe")
	assert.Error(t, err)
}
