// Package interpolation evaluates the small template language used by stream
// definitions to reference connector config, stream state and the current
// slice, e.g. "{{ config['start_date'] }}" or "{{ stream_state.updated_at or 'P0D' }}".
//
// Missing keys evaluate to the empty string. Values are looked up with gjson
// over the JSON encoding of the context.
package interpolation

import (
	"strconv"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/ajitpratap0/nebula-cdk/pkg/errors"
)

// Layouts used to render the time functions.
const (
	NowLayout   = "2006-01-02T15:04:05.000000Z07:00"
	TodayLayout = "2006-01-02"
)

// Context is the set of values a template can reference.
type Context struct {
	Config      map[string]any
	StreamState map[string]any
	StreamSlice map[string]string
	Parameters  map[string]any
}

// Evaluator resolves templates against a Context.
type Evaluator struct {
	now func() time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClock overrides the clock used by now_utc() and today_utc().
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		e.now = now
	}
}

// New creates an Evaluator.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsTemplate reports whether s contains a template expression.
func IsTemplate(s string) bool {
	return strings.Contains(s, "{{")
}

// Eval renders template against ctx. Text outside {{ }} is copied as is.
func (e *Evaluator) Eval(template string, ctx Context) (string, error) {
	if !IsTemplate(template) {
		return template, nil
	}

	doc, err := gojson.Marshal(map[string]any{
		"config":          nonNil(ctx.Config),
		"stream_state":    nonNil(ctx.StreamState),
		"stream_slice":    ctx.StreamSlice,
		"stream_interval": ctx.StreamSlice,
		"parameters":      nonNil(ctx.Parameters),
	})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeData, "failed to encode interpolation context")
	}

	var out strings.Builder
	rest := template
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			out.WriteString(rest)
			break
		}
		closeIdx := strings.Index(rest[open:], "}}")
		if closeIdx < 0 {
			return "", errors.New(errors.ErrorTypeConfig, "unterminated template expression").
				WithDetail("template", template)
		}
		out.WriteString(rest[:open])

		expr := strings.TrimSpace(rest[open+2 : open+closeIdx])
		value, err := e.evalExpr(expr, doc)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeConfig, "failed to evaluate template").
				WithDetail("template", template)
		}
		out.WriteString(value)
		rest = rest[open+closeIdx+2:]
	}
	return out.String(), nil
}

// evalExpr evaluates "a or b or c", returning the first truthy term.
func (e *Evaluator) evalExpr(expr string, doc []byte) (string, error) {
	terms := splitOr(expr)
	var last string
	for _, term := range terms {
		value, truthy, err := e.evalTerm(strings.TrimSpace(term), doc)
		if err != nil {
			return "", err
		}
		if truthy {
			return value, nil
		}
		last = value
	}
	return last, nil
}

func (e *Evaluator) evalTerm(term string, doc []byte) (string, bool, error) {
	if term == "" {
		return "", false, errors.New(errors.ErrorTypeConfig, "empty expression")
	}

	if lit, ok := unquote(term); ok {
		return lit, lit != "", nil
	}
	if _, err := strconv.ParseFloat(term, 64); err == nil {
		return term, term != "0", nil
	}

	switch term {
	case "now_utc()":
		return e.now().UTC().Format(NowLayout), true, nil
	case "today_utc()":
		return e.now().UTC().Format(TodayLayout), true, nil
	case "None", "null":
		return "", false, nil
	}

	path, err := toPath(term)
	if err != nil {
		return "", false, err
	}
	res := gjson.GetBytes(doc, path)
	if !res.Exists() || res.Type == gjson.Null {
		return "", false, nil
	}
	switch res.Type {
	case gjson.String:
		return res.Str, res.Str != "", nil
	case gjson.JSON:
		return res.Raw, res.Raw != "{}" && res.Raw != "[]", nil
	default:
		return res.String(), res.Bool(), nil
	}
}

var roots = map[string]bool{
	"config":          true,
	"stream_state":    true,
	"stream_slice":    true,
	"stream_interval": true,
	"parameters":      true,
}

// toPath converts config['a'].b["c"] into the gjson path config.a.b.c.
func toPath(term string) (string, error) {
	var segments []string
	i := 0
	start := 0
	for i < len(term) && term[i] != '.' && term[i] != '[' {
		i++
	}
	root := term[start:i]
	if !roots[root] {
		return "", errors.Newf(errors.ErrorTypeConfig, "unknown template variable %q", root)
	}
	segments = append(segments, root)

	for i < len(term) {
		switch term[i] {
		case '.':
			i++
			j := i
			for j < len(term) && term[j] != '.' && term[j] != '[' {
				j++
			}
			if j == i {
				return "", errors.Newf(errors.ErrorTypeConfig, "malformed template path %q", term)
			}
			segments = append(segments, escapePath(term[i:j]))
			i = j
		case '[':
			end := strings.IndexByte(term[i:], ']')
			if end < 0 {
				return "", errors.Newf(errors.ErrorTypeConfig, "malformed template path %q", term)
			}
			inner := strings.TrimSpace(term[i+1 : i+end])
			key, ok := unquote(inner)
			if !ok {
				if _, err := strconv.Atoi(inner); err != nil {
					return "", errors.Newf(errors.ErrorTypeConfig, "unsupported index %q", inner)
				}
				key = inner
			}
			segments = append(segments, escapePath(key))
			i += end + 1
		default:
			return "", errors.Newf(errors.ErrorTypeConfig, "malformed template path %q", term)
		}
	}
	return strings.Join(segments, "."), nil
}

func escapePath(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func unquote(s string) (string, bool) {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1], true
		}
	}
	return "", false
}

// splitOr splits on the keyword "or" outside of quotes.
func splitOr(expr string) []string {
	var parts []string
	var quote byte
	last := 0
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == ' ' && strings.HasPrefix(expr[i:], " or "):
			parts = append(parts, expr[last:i])
			i += len(" or ") - 1
			last = i + 1
		}
	}
	return append(parts, expr[last:])
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
