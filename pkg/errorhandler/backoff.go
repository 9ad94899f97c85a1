package errorhandler

import (
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/nebula-cdk/pkg/errors"
)

// BackoffStrategy computes how long to wait before retrying. ok is false when
// the strategy has no opinion; a non-nil error turns the retry into a failure.
type BackoffStrategy interface {
	BackoffTime(resp *Response, attempt int) (wait time.Duration, ok bool, err error)
}

// DefaultBackoff is used when no configured strategy yields a wait: 10s, 20s,
// 40s... for the first, second and third retry of a request.
var DefaultBackoff BackoffStrategy = ExponentialBackoff{Factor: DefaultBackoffFactor}

// DefaultBackoffFactor is the exponential factor used when none is configured.
const DefaultBackoffFactor = 10

// ConstantBackoff always waits the same amount.
type ConstantBackoff struct {
	Wait time.Duration
}

// BackoffTime implements BackoffStrategy.
func (b ConstantBackoff) BackoffTime(_ *Response, _ int) (time.Duration, bool, error) {
	return b.Wait, true, nil
}

// ExponentialBackoff waits Factor * Base^attempt seconds. Base defaults to 2.
type ExponentialBackoff struct {
	Factor float64
	Base   float64
}

// BackoffTime implements BackoffStrategy.
func (b ExponentialBackoff) BackoffTime(_ *Response, attempt int) (time.Duration, bool, error) {
	base := b.Base
	if base <= 0 {
		base = 2
	}
	return seconds(b.Factor * math.Pow(base, float64(attempt))), true, nil
}

// WaitTimeFromHeader reads a wait in seconds from a response header. An
// HTTP-date value is also accepted, as sent in Retry-After.
type WaitTimeFromHeader struct {
	Header string
	// Regex, when set, extracts the value from its first capture group.
	Regex *regexp.Regexp
	// MaxWait, when positive, fails the request if the server asks for more.
	MaxWait time.Duration

	now func() time.Time
}

// NewWaitTimeFromHeader compiles pattern (which may be empty).
func NewWaitTimeFromHeader(header, pattern string, maxWait time.Duration) (*WaitTimeFromHeader, error) {
	re, err := compile(pattern)
	if err != nil {
		return nil, err
	}
	return &WaitTimeFromHeader{Header: header, Regex: re, MaxWait: maxWait}, nil
}

// BackoffTime implements BackoffStrategy.
func (b *WaitTimeFromHeader) BackoffTime(resp *Response, _ int) (time.Duration, bool, error) {
	raw, ok := headerValue(resp, b.Header, b.Regex)
	if !ok {
		return 0, false, nil
	}

	var wait time.Duration
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		wait = seconds(secs)
	} else if at, err := http.ParseTime(raw); err == nil {
		wait = at.Sub(clock(b.now)())
		if wait < 0 {
			wait = 0
		}
	} else {
		return 0, false, nil
	}

	if b.MaxWait > 0 && wait > b.MaxWait {
		return 0, false, errors.Newf(errors.ErrorTypeRateLimit,
			"server asked to wait %s, more than the allowed %s", wait, b.MaxWait).
			WithDetail("header", b.Header)
	}
	return wait, true, nil
}

// WaitUntilTimeFromHeader reads an epoch timestamp from a header and waits
// until then. MinWait, when set, is a floor on the wait.
type WaitUntilTimeFromHeader struct {
	Header  string
	Regex   *regexp.Regexp
	MinWait time.Duration

	now func() time.Time
}

// NewWaitUntilTimeFromHeader compiles pattern (which may be empty).
func NewWaitUntilTimeFromHeader(header, pattern string, minWait time.Duration) (*WaitUntilTimeFromHeader, error) {
	re, err := compile(pattern)
	if err != nil {
		return nil, err
	}
	return &WaitUntilTimeFromHeader{Header: header, Regex: re, MinWait: minWait}, nil
}

// BackoffTime implements BackoffStrategy.
func (b *WaitUntilTimeFromHeader) BackoffTime(resp *Response, _ int) (time.Duration, bool, error) {
	raw, ok := headerValue(resp, b.Header, b.Regex)
	if !ok {
		if b.MinWait > 0 {
			return b.MinWait, true, nil
		}
		return 0, false, nil
	}

	epoch, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		if b.MinWait > 0 {
			return b.MinWait, true, nil
		}
		return 0, false, nil
	}

	whole, frac := math.Modf(epoch)
	until := time.Unix(int64(whole), int64(frac*float64(time.Second)))
	wait := until.Sub(clock(b.now)())
	if b.MinWait > 0 && wait < b.MinWait {
		wait = b.MinWait
	}
	if wait < 0 {
		return 0, false, nil
	}
	return wait, true, nil
}

func headerValue(resp *Response, header string, re *regexp.Regexp) (string, bool) {
	if resp == nil || header == "" {
		return "", false
	}
	raw := strings.TrimSpace(resp.Header.Get(header))
	if raw == "" {
		return "", false
	}
	if re == nil {
		return raw, true
	}
	m := re.FindStringSubmatch(raw)
	switch {
	case m == nil:
		return "", false
	case len(m) > 1:
		return m[1], true
	default:
		return m[0], true
	}
}

func compile(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid header regex").
			WithDetail("regex", pattern)
	}
	return re, nil
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	if s >= math.MaxInt64/float64(time.Second) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(s * float64(time.Second))
}

func clock(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}
