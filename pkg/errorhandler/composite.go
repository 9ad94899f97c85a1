package errorhandler

import "time"

// CompositeErrorHandler combines independently configured handlers into one
// verdict. IGNORE beats FAIL, FAIL beats RETRY, and RETRY beats SUCCESS. Among
// RETRY verdicts the first one wins.
type CompositeErrorHandler struct {
	handlers []ErrorHandler
}

// NewCompositeErrorHandler creates a composite over handlers, in order.
func NewCompositeErrorHandler(handlers ...ErrorHandler) *CompositeErrorHandler {
	return &CompositeErrorHandler{handlers: handlers}
}

// NewRetryClassifier returns the single handler when there is only one, or a
// composite otherwise.
func NewRetryClassifier(handlers ...ErrorHandler) ErrorHandler {
	if len(handlers) == 1 {
		return handlers[0]
	}
	return NewCompositeErrorHandler(handlers...)
}

// Handlers returns the wrapped handlers.
func (c *CompositeErrorHandler) Handlers() []ErrorHandler { return c.handlers }

// ShouldRetry implements ErrorHandler.
func (c *CompositeErrorHandler) ShouldRetry(resp *Response) ResponseStatus {
	return c.Resolve(resp).Status
}

// Resolve implements ErrorHandler. Every handler is evaluated.
func (c *CompositeErrorHandler) Resolve(resp *Response) Resolution {
	if len(c.handlers) == 0 {
		return Resolution{Status: Success()}
	}
	resolutions := make([]Resolution, len(c.handlers))
	for i, h := range c.handlers {
		resolutions[i] = h.Resolve(resp)
	}
	return resolutions[reduceIndex(resolutions)]
}

// MaxRetries implements ErrorHandler as the largest ceiling of its handlers.
func (c *CompositeErrorHandler) MaxRetries() int {
	n := 0
	for _, h := range c.handlers {
		if m := h.MaxRetries(); m > n {
			n = m
		}
	}
	return n
}

// MaxTime implements ErrorHandler as the largest ceiling of its handlers.
func (c *CompositeErrorHandler) MaxTime() time.Duration {
	var d time.Duration
	for _, h := range c.handlers {
		if m := h.MaxTime(); m > d {
			d = m
		}
	}
	return d
}

// Reduce combines verdicts with the composite priority rules. No verdicts
// reduce to SUCCESS.
func Reduce(statuses ...ResponseStatus) ResponseStatus {
	if len(statuses) == 0 {
		return Success()
	}
	resolutions := make([]Resolution, len(statuses))
	for i, s := range statuses {
		resolutions[i] = Resolution{Status: s}
	}
	return resolutions[reduceIndex(resolutions)].Status
}

var priority = map[Action]int{
	ActionIgnore:  3,
	ActionFail:    2,
	ActionRetry:   1,
	ActionSuccess: 0,
}

func reduceIndex(rs []Resolution) int {
	best := 0
	for i := 1; i < len(rs); i++ {
		if priority[rs[i].Status.action] > priority[rs[best].Status.action] {
			best = i
		}
	}
	return best
}
