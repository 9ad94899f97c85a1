// Package errorhandler classifies HTTP responses into retry decisions.
//
// A handler runs an ordered list of response filters, falls back to a
// status-code policy, and for RETRY verdicts computes a wait from an ordered
// list of backoff strategies. Handlers never sleep or perform I/O; acting on
// the verdict is up to the caller.
package errorhandler

import (
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/nebula-cdk/pkg/errors"
)

// Action is the kind of verdict for a response.
type Action int

const (
	ActionSuccess Action = iota
	ActionRetry
	ActionIgnore
	ActionFail
)

// String returns the upper-case action name.
func (a Action) String() string {
	switch a {
	case ActionSuccess:
		return "SUCCESS"
	case ActionRetry:
		return "RETRY"
	case ActionIgnore:
		return "IGNORE"
	case ActionFail:
		return "FAIL"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// ParseAction parses an action name, ignoring case.
func ParseAction(s string) (Action, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SUCCESS":
		return ActionSuccess, nil
	case "RETRY":
		return ActionRetry, nil
	case "IGNORE":
		return ActionIgnore, nil
	case "FAIL":
		return ActionFail, nil
	default:
		return 0, errors.Newf(errors.ErrorTypeConfig, "unknown response action %q", s)
	}
}

// ResponseStatus is the verdict for one response. It is a comparable value:
// two RETRY statuses with the same wait are equal.
type ResponseStatus struct {
	action     Action
	retryAfter time.Duration
}

// Success returns the SUCCESS status.
func Success() ResponseStatus { return ResponseStatus{action: ActionSuccess} }

// Ignore returns the IGNORE status.
func Ignore() ResponseStatus { return ResponseStatus{action: ActionIgnore} }

// Fail returns the FAIL status.
func Fail() ResponseStatus { return ResponseStatus{action: ActionFail} }

// Retry returns a RETRY status advising a wait of after.
func Retry(after time.Duration) ResponseStatus {
	return ResponseStatus{action: ActionRetry, retryAfter: after}
}

// Action returns the verdict kind.
func (s ResponseStatus) Action() Action { return s.action }

// RetryAfter returns the advised wait. It is zero unless the action is RETRY.
func (s ResponseStatus) RetryAfter() time.Duration { return s.retryAfter }

// Equal reports whether s and o are the same verdict.
func (s ResponseStatus) Equal(o ResponseStatus) bool { return s == o }

func (s ResponseStatus) String() string {
	if s.action == ActionRetry {
		return fmt.Sprintf("RETRY(%s)", s.retryAfter)
	}
	return s.action.String()
}

// Resolution is a status plus a human readable explanation.
type Resolution struct {
	Status  ResponseStatus
	Message string
}
