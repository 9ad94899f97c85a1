// Package config defines the YAML stream definition read by nebula-cdk and
// loads it with environment substitution and NEBULA_CDK_* overrides.
//
// A minimal definition:
//
//	stream: orders
//	requester:
//	  url_base: https://api.example.com
//	  path: /v1/orders
//	  records_path: data
//	incremental:
//	  cursor_field: updated_at
//	  datetime_format: "%Y-%m-%dT%H:%M:%SZ"
//	  start_datetime: "{{ config['start_date'] }}"
//	  step: P1D
//	  cursor_granularity: PT1S
//	config:
//	  start_date: 2021-01-01T00:00:00Z
package config

import (
	"net/http"
	"strings"
	"time"

	"github.com/ajitpratap0/nebula-cdk/pkg/clients"
	"github.com/ajitpratap0/nebula-cdk/pkg/errorhandler"
	"github.com/ajitpratap0/nebula-cdk/pkg/errors"
	"github.com/ajitpratap0/nebula-cdk/pkg/incremental"
	"github.com/ajitpratap0/nebula-cdk/pkg/logger"
	"github.com/ajitpratap0/nebula-cdk/pkg/observability"
	"github.com/ajitpratap0/nebula-cdk/pkg/state"
)

// Backoff strategy types.
const (
	BackoffConstant            = "constant"
	BackoffExponential         = "exponential"
	BackoffWaitTimeFromHeader  = "wait_time_from_header"
	BackoffWaitUntilFromHeader = "wait_until_time_from_header"
)

// StreamConfig is one declarative stream.
type StreamConfig struct {
	Stream        string               `mapstructure:"stream" yaml:"stream"`
	Requester     RequesterConfig      `mapstructure:"requester" yaml:"requester"`
	Incremental   incremental.Config   `mapstructure:"incremental" yaml:"incremental"`
	ErrorHandlers []ErrorHandlerConfig `mapstructure:"error_handlers" yaml:"error_handlers,omitempty"`
	State         state.Config         `mapstructure:"state" yaml:"state"`
	HTTP          clients.HTTPConfig   `mapstructure:"http" yaml:"http"`
	Log           logger.Config        `mapstructure:"log" yaml:"log"`
	Tracing       observability.Config `mapstructure:"tracing" yaml:"tracing"`

	// Config holds connector values visible to templates as config['...'].
	Config map[string]any `mapstructure:"config" yaml:"config,omitempty"`
}

// RequesterConfig describes the HTTP request issued per slice.
type RequesterConfig struct {
	URLBase string            `mapstructure:"url_base" yaml:"url_base"`
	Path    string            `mapstructure:"path" yaml:"path,omitempty"`
	Method  string            `mapstructure:"method" yaml:"method,omitempty"`
	Headers map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`
	Params  map[string]string `mapstructure:"params" yaml:"params,omitempty"`

	// RecordsPath is a gjson path to the record array; empty means the body itself.
	RecordsPath string `mapstructure:"records_path" yaml:"records_path,omitempty"`
	// NextPagePath locates the next page token; empty disables pagination.
	NextPagePath   string `mapstructure:"next_page_path" yaml:"next_page_path,omitempty"`
	PageTokenParam string `mapstructure:"page_token_param" yaml:"page_token_param,omitempty"`
	MaxPages       int    `mapstructure:"max_pages" yaml:"max_pages,omitempty"`
}

// ErrorHandlerConfig configures one DefaultErrorHandler in the chain.
type ErrorHandlerConfig struct {
	Name              string          `mapstructure:"name" yaml:"name,omitempty"`
	Filters           []FilterConfig  `mapstructure:"filters" yaml:"filters,omitempty"`
	BackoffStrategies []BackoffConfig `mapstructure:"backoff_strategies" yaml:"backoff_strategies,omitempty"`
	MaxRetries        *int            `mapstructure:"max_retries" yaml:"max_retries,omitempty"`
	MaxTime           time.Duration   `mapstructure:"max_time" yaml:"max_time,omitempty"`
}

// FilterConfig is one response filter. Exactly one of HTTPCodes, Predicate
// and ErrorMessageContains is expected.
type FilterConfig struct {
	Action               string `mapstructure:"action" yaml:"action"`
	HTTPCodes            []int  `mapstructure:"http_codes" yaml:"http_codes,omitempty"`
	Predicate            string `mapstructure:"predicate" yaml:"predicate,omitempty"`
	ErrorMessageContains string `mapstructure:"error_message_contains" yaml:"error_message_contains,omitempty"`
	ErrorMessage         string `mapstructure:"error_message" yaml:"error_message,omitempty"`
}

// BackoffConfig is one backoff strategy. Times are in seconds.
type BackoffConfig struct {
	Type                 string  `mapstructure:"type" yaml:"type"`
	BackoffTimeInSeconds float64 `mapstructure:"backoff_time_in_seconds" yaml:"backoff_time_in_seconds,omitempty"`
	Factor               float64 `mapstructure:"factor" yaml:"factor,omitempty"`
	Base                 float64 `mapstructure:"base" yaml:"base,omitempty"`
	Header               string  `mapstructure:"header" yaml:"header,omitempty"`
	Regex                string  `mapstructure:"regex" yaml:"regex,omitempty"`
	MaxWaiting           float64 `mapstructure:"max_waiting_time_in_seconds" yaml:"max_waiting_time_in_seconds,omitempty"`
	MinWait              float64 `mapstructure:"min_wait" yaml:"min_wait,omitempty"`
}

// Default returns a StreamConfig with every optional section defaulted.
func Default() *StreamConfig {
	return &StreamConfig{
		Requester: RequesterConfig{Method: http.MethodGet},
		State: state.Config{
			Backend: state.BackendFile,
			Path:    ".nebula-cdk/state",
			Table:   state.DefaultTable,
		},
		HTTP:    *clients.DefaultHTTPConfig(),
		Log:     logger.Config{Level: "info", Encoding: "json", OutputPaths: []string{"stderr"}},
		Tracing: observability.DefaultConfig(),
	}
}

// Validate checks the parts of the definition that need no evaluation.
// Cursor and handler construction validate the rest.
func (c *StreamConfig) Validate() error {
	if strings.TrimSpace(c.Stream) == "" {
		return invalid("stream", "stream name is required")
	}
	if strings.ContainsAny(c.Stream, `/\`) || c.Stream == "." || c.Stream == ".." {
		return invalid("stream", "stream name must not contain path separators")
	}
	if c.Requester.URLBase == "" {
		return invalid("requester.url_base", "url_base is required")
	}
	switch strings.ToUpper(c.Requester.Method) {
	case "", http.MethodGet, http.MethodPost:
	default:
		return invalid("requester.method", "method must be GET or POST")
	}
	if c.Requester.NextPagePath != "" && c.Requester.PageTokenParam == "" {
		return invalid("requester.page_token_param", "page_token_param is required with next_page_path")
	}

	for i, h := range c.ErrorHandlers {
		for _, f := range h.Filters {
			if _, err := errorhandler.ParseAction(f.Action); err != nil {
				return errors.Wrap(err, errors.ErrorTypeConfig, "invalid filter").WithDetail("handler", i)
			}
		}
		for _, b := range h.BackoffStrategies {
			switch b.Type {
			case BackoffConstant, BackoffExponential, BackoffWaitTimeFromHeader, BackoffWaitUntilFromHeader:
			default:
				return invalid("error_handlers.backoff_strategies.type", "unknown backoff strategy "+b.Type)
			}
		}
		if h.MaxRetries != nil && *h.MaxRetries < 0 {
			return invalid("error_handlers.max_retries", "max_retries must not be negative")
		}
	}

	switch c.State.Backend {
	case "", state.BackendMemory, state.BackendFile, state.BackendPostgres, state.BackendSQLite:
	default:
		return invalid("state.backend", "unknown state backend "+c.State.Backend)
	}
	return nil
}

func invalid(field, msg string) error {
	return errors.New(errors.ErrorTypeConfig, msg).WithDetail("field", field)
}
