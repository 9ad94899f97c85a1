package incremental

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestOptions(t *testing.T) {
	slice := StreamSlice{"start_time": "2021-01-01", "end_time": "2021-01-02"}

	tests := []struct {
		name  string
		start *RequestOption
		end   *RequestOption
		want  RequestOptions
	}{
		{
			name:  "query parameters",
			start: &RequestOption{InjectInto: InjectRequestParameter, FieldName: "since"},
			end:   &RequestOption{InjectInto: InjectRequestParameter, FieldName: "until"},
			want: RequestOptions{
				Params:   map[string]string{"since": "2021-01-01", "until": "2021-01-02"},
				Headers:  map[string]string{},
				BodyData: map[string]string{},
				BodyJSON: map[string]any{},
			},
		},
		{
			name:  "split across header and json body",
			start: &RequestOption{InjectInto: InjectHeader, FieldName: "X-Since"},
			end:   &RequestOption{InjectInto: InjectBodyJSON, FieldName: "until"},
			want: RequestOptions{
				Params:   map[string]string{},
				Headers:  map[string]string{"X-Since": "2021-01-01"},
				BodyData: map[string]string{},
				BodyJSON: map[string]any{"until": "2021-01-02"},
			},
		},
		{
			name:  "form body start only",
			start: &RequestOption{InjectInto: InjectBodyData, FieldName: "from"},
			want: RequestOptions{
				Params:   map[string]string{},
				Headers:  map[string]string{},
				BodyData: map[string]string{"from": "2021-01-01"},
				BodyJSON: map[string]any{},
			},
		},
		{
			name: "nothing configured",
			want: RequestOptions{
				Params:   map[string]string{},
				Headers:  map[string]string{},
				BodyData: map[string]string{},
				BodyJSON: map[string]any{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := dailyConfig()
			cfg.StartTimeOption = tt.start
			cfg.EndTimeOption = tt.end
			c := newTestCursor(t, cfg)

			got := c.RequestOptions(slice)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.start == nil && tt.end == nil, got.IsEmpty())
		})
	}
}

func TestRequestOptionsNilSlice(t *testing.T) {
	cfg := dailyConfig()
	cfg.StartTimeOption = &RequestOption{InjectInto: InjectRequestParameter, FieldName: "since"}
	c := newTestCursor(t, cfg)

	assert.Empty(t, c.RequestParams(nil))
}
