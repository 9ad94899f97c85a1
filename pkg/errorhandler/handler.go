package errorhandler

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-cdk/pkg/logger"
)

// Defaults for the retry ceilings exposed to the read loop.
const (
	DefaultMaxRetries = 5
	DefaultMaxTime    = 10 * time.Minute
)

// ErrorHandler classifies responses. Implementations never sleep and never
// return errors; RETRY is advice for the caller.
type ErrorHandler interface {
	ShouldRetry(resp *Response) ResponseStatus
	Resolve(resp *Response) Resolution
	// MaxRetries and MaxTime are ceilings the caller enforces.
	MaxRetries() int
	MaxTime() time.Duration
}

// DefaultErrorHandler evaluates filters in order, then the status-code
// policy, and computes RETRY waits from its backoff strategies.
type DefaultErrorHandler struct {
	name       string
	filters    []ResponseFilter
	strategies []BackoffStrategy
	attempts   *AttemptCounter
	maxRetries int
	maxTime    time.Duration
	logger     *zap.Logger
}

// HandlerOption configures a DefaultErrorHandler.
type HandlerOption func(*DefaultErrorHandler)

// WithName labels the handler in logs and metrics.
func WithName(name string) HandlerOption {
	return func(h *DefaultErrorHandler) { h.name = name }
}

// WithFilters sets the ordered response filters.
func WithFilters(filters ...ResponseFilter) HandlerOption {
	return func(h *DefaultErrorHandler) { h.filters = append(h.filters, filters...) }
}

// WithBackoffStrategies sets the ordered backoff strategies.
func WithBackoffStrategies(strategies ...BackoffStrategy) HandlerOption {
	return func(h *DefaultErrorHandler) { h.strategies = append(h.strategies, strategies...) }
}

// WithMaxRetries sets the retry ceiling reported to callers.
func WithMaxRetries(n int) HandlerOption {
	return func(h *DefaultErrorHandler) { h.maxRetries = n }
}

// WithMaxTime sets the elapsed time ceiling reported to callers.
func WithMaxTime(d time.Duration) HandlerOption {
	return func(h *DefaultErrorHandler) { h.maxTime = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) HandlerOption {
	return func(h *DefaultErrorHandler) { h.logger = l }
}

// NewDefaultErrorHandler creates a handler. Filters are validated.
func NewDefaultErrorHandler(opts ...HandlerOption) (*DefaultErrorHandler, error) {
	h := &DefaultErrorHandler{
		name:       "default",
		attempts:   NewAttemptCounter(),
		maxRetries: DefaultMaxRetries,
		maxTime:    DefaultMaxTime,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logger.Get()
	}
	h.logger = h.logger.With(zap.String("error_handler", h.name))

	for _, f := range h.filters {
		if err := f.Validate(); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Name returns the handler label.
func (h *DefaultErrorHandler) Name() string { return h.name }

// MaxRetries implements ErrorHandler.
func (h *DefaultErrorHandler) MaxRetries() int { return h.maxRetries }

// MaxTime implements ErrorHandler.
func (h *DefaultErrorHandler) MaxTime() time.Duration { return h.maxTime }

// Attempts exposes the per-signature retry counter.
func (h *DefaultErrorHandler) Attempts() *AttemptCounter { return h.attempts }

// ShouldRetry implements ErrorHandler.
func (h *DefaultErrorHandler) ShouldRetry(resp *Response) ResponseStatus {
	return h.Resolve(resp).Status
}

// Resolve implements ErrorHandler.
func (h *DefaultErrorHandler) Resolve(resp *Response) Resolution {
	if resp == nil {
		return Resolution{Status: Fail(), Message: "no response received"}
	}
	sig := resp.Signature()

	action, message, matched := h.matchFilters(resp)
	if !matched {
		action, message = defaultAction(resp)
	}

	if action != ActionRetry {
		h.attempts.Reset(sig)
		return Resolution{Status: statusFor(action), Message: message}
	}

	attempt := h.attempts.Next(sig)
	wait, err := h.backoff(resp, attempt)
	if err != nil {
		h.attempts.Reset(sig)
		return Resolution{Status: Fail(), Message: err.Error()}
	}

	h.logger.Debug("response classified as retryable",
		zap.Int("status", resp.StatusCode),
		zap.String("signature", sig),
		zap.Int("attempt", attempt),
		zap.Duration("retry_after", wait))
	return Resolution{Status: Retry(wait), Message: message}
}

func (h *DefaultErrorHandler) matchFilters(resp *Response) (Action, string, bool) {
	for _, f := range h.filters {
		if msg, ok := f.Match(resp); ok {
			return f.action, msg, true
		}
	}
	return 0, "", false
}

func (h *DefaultErrorHandler) backoff(resp *Response, attempt int) (time.Duration, error) {
	for _, s := range h.strategies {
		wait, ok, err := s.BackoffTime(resp, attempt)
		if err != nil {
			return 0, err
		}
		if ok {
			return wait, nil
		}
	}
	wait, _, err := DefaultBackoff.BackoffTime(resp, attempt)
	return wait, err
}

func defaultAction(resp *Response) (Action, string) {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 400:
		return ActionSuccess, ""
	case code == http.StatusTooManyRequests || code >= 500:
		return ActionRetry, describeStatus(resp)
	default:
		return ActionFail, describeStatus(resp)
	}
}

func describeStatus(resp *Response) string {
	msg := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if upstream := resp.ErrorMessage(); upstream != "" {
		msg += ": " + upstream
	}
	return msg
}

func statusFor(action Action) ResponseStatus {
	switch action {
	case ActionSuccess:
		return Success()
	case ActionIgnore:
		return Ignore()
	default:
		return Fail()
	}
}
