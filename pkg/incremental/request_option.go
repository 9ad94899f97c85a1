package incremental

import (
	"github.com/ajitpratap0/nebula-cdk/pkg/errors"
)

// InjectInto names the part of an outgoing request a value is written to.
type InjectInto string

const (
	InjectRequestParameter InjectInto = "request_parameter"
	InjectHeader           InjectInto = "header"
	InjectBodyData         InjectInto = "body_data"
	InjectBodyJSON         InjectInto = "body_json"
)

// RequestOption describes where a slice boundary is injected.
type RequestOption struct {
	InjectInto InjectInto `mapstructure:"inject_into" yaml:"inject_into"`
	FieldName  string     `mapstructure:"field_name" yaml:"field_name"`
}

// Validate checks the option is usable.
func (o *RequestOption) Validate() error {
	if o == nil {
		return nil
	}
	switch o.InjectInto {
	case InjectRequestParameter, InjectHeader, InjectBodyData, InjectBodyJSON:
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown inject_into %q", o.InjectInto)
	}
	if o.FieldName == "" {
		return errors.New(errors.ErrorTypeConfig, "request option requires a field_name")
	}
	return nil
}

// RequestOptions is every value the cursor contributes to one request.
type RequestOptions struct {
	Params   map[string]string
	Headers  map[string]string
	BodyData map[string]string
	BodyJSON map[string]any
}

// IsEmpty reports whether no value would be injected.
func (r RequestOptions) IsEmpty() bool {
	return len(r.Params) == 0 && len(r.Headers) == 0 && len(r.BodyData) == 0 && len(r.BodyJSON) == 0
}

// RequestParams returns the query parameters for slice.
func (c *DatetimeCursor) RequestParams(slice StreamSlice) map[string]string {
	return c.injected(InjectRequestParameter, slice)
}

// RequestHeaders returns the headers for slice.
func (c *DatetimeCursor) RequestHeaders(slice StreamSlice) map[string]string {
	return c.injected(InjectHeader, slice)
}

// RequestBodyData returns the form body fields for slice.
func (c *DatetimeCursor) RequestBodyData(slice StreamSlice) map[string]string {
	return c.injected(InjectBodyData, slice)
}

// RequestBodyJSON returns the JSON body fields for slice.
func (c *DatetimeCursor) RequestBodyJSON(slice StreamSlice) map[string]any {
	fields := c.injected(InjectBodyJSON, slice)
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// RequestOptions collects all injected values for slice.
func (c *DatetimeCursor) RequestOptions(slice StreamSlice) RequestOptions {
	return RequestOptions{
		Params:   c.RequestParams(slice),
		Headers:  c.RequestHeaders(slice),
		BodyData: c.RequestBodyData(slice),
		BodyJSON: c.RequestBodyJSON(slice),
	}
}

func (c *DatetimeCursor) injected(into InjectInto, slice StreamSlice) map[string]string {
	out := map[string]string{}
	if slice == nil {
		return out
	}
	if opt := c.cfg.StartTimeOption; opt != nil && opt.InjectInto == into {
		if v, ok := slice[c.partitionStart]; ok {
			out[opt.FieldName] = v
		}
	}
	if opt := c.cfg.EndTimeOption; opt != nil && opt.InjectInto == into {
		if v, ok := slice[c.partitionEnd]; ok {
			out[opt.FieldName] = v
		}
	}
	return out
}
