package errorhandler

import (
	"bytes"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	gojson "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/tidwall/gjson"

	"github.com/ajitpratap0/nebula-cdk/pkg/errors"
)

// maxBodySize bounds how much of a response body is buffered.
const maxBodySize = 64 << 20

// messageKeys are the body fields searched for an upstream error message.
var messageKeys = []string{"message", "error", "errors", "detail", "error_message", "msg", "reason"}

// Response is a fully read HTTP response. It is never mutated by handlers.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Request    *http.Request
	// RequestKey overrides the derived request signature when set.
	RequestKey string

	once    sync.Once
	decoded any
	jsonErr error
}

// NewResponse reads and closes the body of resp, decompressing it according
// to Content-Encoding.
func NewResponse(resp *http.Response) (*Response, error) {
	defer resp.Body.Close()

	reader, err := decoder(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decompress response body").
			WithDetail("status", resp.StatusCode)
	}
	defer reader.Close()

	body, err := io.ReadAll(io.LimitReader(reader, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read response body").
			WithDetail("status", resp.StatusCode)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Request:    resp.Request,
	}, nil
}

func decoder(encoding string, body io.Reader) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return io.NopCloser(body), nil
	case "gzip", "x-gzip":
		return gzip.NewReader(body)
	case "deflate":
		return zlib.NewReader(body)
	case "zstd":
		dec, err := zstd.NewReader(body)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeData, "unsupported content encoding %q", encoding)
	}
}

// JSON decodes the body once and caches the result.
func (r *Response) JSON() (any, error) {
	r.once.Do(func() {
		if len(bytes.TrimSpace(r.Body)) == 0 {
			return
		}
		if err := gojson.Unmarshal(r.Body, &r.decoded); err != nil {
			r.jsonErr = errors.Wrap(err, errors.ErrorTypeData, "response body is not valid JSON")
		}
	})
	return r.decoded, r.jsonErr
}

// IsJSON reports whether the body is a valid JSON document.
func (r *Response) IsJSON() bool {
	return len(r.Body) > 0 && gjson.ValidBytes(r.Body)
}

// ErrorMessage extracts an upstream error message from common body fields.
func (r *Response) ErrorMessage() string {
	if !r.IsJSON() {
		return ""
	}
	for _, key := range messageKeys {
		if msg := messageFrom(gjson.GetBytes(r.Body, key)); msg != "" {
			return msg
		}
	}
	return ""
}

func messageFrom(res gjson.Result) string {
	switch {
	case !res.Exists():
		return ""
	case res.Type == gjson.String:
		return res.Str
	case res.IsArray():
		var parts []string
		for _, item := range res.Array() {
			if msg := messageFrom(item); msg != "" {
				parts = append(parts, msg)
			}
		}
		return strings.Join(parts, ", ")
	case res.IsObject():
		for _, key := range messageKeys {
			if msg := messageFrom(res.Get(key)); msg != "" {
				return msg
			}
		}
	}
	return ""
}

// Signature identifies the logical request that produced the response. The
// query string is normalized so parameter order does not matter.
func (r *Response) Signature() string {
	if r.RequestKey != "" {
		return r.RequestKey
	}
	if r.Request == nil || r.Request.URL == nil {
		return ""
	}
	u := r.Request.URL
	query := u.Query()
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(r.Request.Method)
	b.WriteByte(' ')
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(u.Host)
	b.WriteString(u.Path)
	for i, k := range keys {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		vals := append([]string(nil), query[k]...)
		sort.Strings(vals)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strings.Join(vals, ","))
	}
	return b.String()
}

// document is the JSON view predicates are evaluated against:
// {"status_code": 404, "headers": {...}, "body": ...}.
func (r *Response) document() []byte {
	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	doc := map[string]any{
		"status_code": r.StatusCode,
		"headers":     headers,
	}
	if r.IsJSON() {
		doc["body"] = gojson.RawMessage(r.Body)
	} else {
		doc["body"] = string(r.Body)
	}
	out, err := gojson.Marshal(doc)
	if err != nil {
		return nil
	}
	return out
}
