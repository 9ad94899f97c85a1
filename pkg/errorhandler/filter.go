package errorhandler

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ajitpratap0/nebula-cdk/pkg/errors"
)

// FilterKind selects how a ResponseFilter matches.
type FilterKind int

const (
	// KindStatusCodes matches a set of HTTP status codes.
	KindStatusCodes FilterKind = iota
	// KindPredicate matches when a gjson path over the response document is truthy.
	KindPredicate
	// KindErrorMessageContains matches a substring of the extracted error message.
	KindErrorMessageContains
)

// ResponseFilter maps a response to an action when it matches. Build filters
// with FilterStatusCodes, FilterPredicate or FilterErrorMessageContains.
type ResponseFilter struct {
	kind      FilterKind
	action    Action
	codes     map[int]struct{}
	predicate string
	contains  string
	message   string
}

// FilterStatusCodes matches any of codes.
func FilterStatusCodes(action Action, codes ...int) ResponseFilter {
	set := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return ResponseFilter{kind: KindStatusCodes, action: action, codes: set}
}

// FilterPredicate matches when the gjson path expr is truthy against
// {"status_code": ..., "headers": {...}, "body": ...},
// e.g. body.errors.#(code=="RATE_LIMITED").
func FilterPredicate(action Action, expr string) ResponseFilter {
	return ResponseFilter{kind: KindPredicate, action: action, predicate: expr}
}

// FilterErrorMessageContains matches when the extracted error message, or the
// raw body when no message is found, contains substr.
func FilterErrorMessageContains(action Action, substr string) ResponseFilter {
	return ResponseFilter{kind: KindErrorMessageContains, action: action, contains: substr}
}

// WithMessage sets the message reported when the filter matches.
func (f ResponseFilter) WithMessage(msg string) ResponseFilter {
	f.message = msg
	return f
}

// Kind returns how the filter matches.
func (f ResponseFilter) Kind() FilterKind { return f.kind }

// Action returns the action applied on match.
func (f ResponseFilter) Action() Action { return f.action }

// Validate rejects filters that cannot match or that would return SUCCESS.
func (f ResponseFilter) Validate() error {
	if f.action == ActionSuccess {
		return errors.New(errors.ErrorTypeConfig, "response filters cannot resolve to SUCCESS")
	}
	switch f.kind {
	case KindStatusCodes:
		if len(f.codes) == 0 {
			return errors.New(errors.ErrorTypeConfig, "http_codes filter needs at least one code")
		}
	case KindPredicate:
		if strings.TrimSpace(f.predicate) == "" {
			return errors.New(errors.ErrorTypeConfig, "predicate filter needs an expression")
		}
	case KindErrorMessageContains:
		if f.contains == "" {
			return errors.New(errors.ErrorTypeConfig, "error_message_contains filter needs a substring")
		}
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown filter kind %d", f.kind)
	}
	return nil
}

// Match reports whether resp matches and, if so, the message to attach.
func (f ResponseFilter) Match(resp *Response) (string, bool) {
	var matched bool
	switch f.kind {
	case KindStatusCodes:
		_, matched = f.codes[resp.StatusCode]
	case KindPredicate:
		matched = truthy(gjson.GetBytes(resp.document(), f.predicate))
	case KindErrorMessageContains:
		text := resp.ErrorMessage()
		if text == "" {
			text = string(resp.Body)
		}
		matched = strings.Contains(text, f.contains)
	}
	if !matched {
		return "", false
	}
	return f.describe(resp), true
}

func (f ResponseFilter) describe(resp *Response) string {
	if f.message != "" {
		return f.message
	}
	if msg := resp.ErrorMessage(); msg != "" {
		return msg
	}
	return fmt.Sprintf("HTTP %d matched %s filter", resp.StatusCode, f.action)
}

func truthy(res gjson.Result) bool {
	switch res.Type {
	case gjson.Null:
		return false
	case gjson.String:
		return res.Str != ""
	case gjson.JSON:
		return res.Raw != "{}" && res.Raw != "[]"
	default:
		return res.Bool()
	}
}
