package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Span wraps a trace span and batches attributes until End.
type Span struct {
	span       trace.Span
	startTime  time.Time
	attributes []attribute.KeyValue
}

// NewSpan starts a span named operationName.
func NewSpan(ctx context.Context, operationName string) (context.Context, *Span) {
	ctx, span := Tracer().Start(ctx, operationName)
	return ctx, &Span{
		span:      span,
		startTime: time.Now(),
	}
}

// StartSliceSpan starts the span covering one stream slice.
func StartSliceSpan(ctx context.Context, stream string, slice map[string]string) (context.Context, *Span) {
	ctx, span := NewSpan(ctx, "stream.slice")
	span.SetAttribute("stream.name", stream)
	for k, v := range slice {
		span.SetAttribute("slice."+k, v)
	}
	return ctx, span
}

// StartRequestSpan starts the span covering one HTTP attempt.
func StartRequestSpan(ctx context.Context, stream string, req *http.Request, attempt int) (context.Context, *Span) {
	ctx, span := NewSpan(ctx, fmt.Sprintf("%s %s", req.Method, req.URL.Path))
	span.SetAttribute("stream.name", stream)
	span.SetAttribute("http.method", req.Method)
	span.SetAttribute("http.url", req.URL.String())
	span.SetAttribute("http.attempt", attempt)
	return ctx, span
}

// SetAttribute adds an attribute, applied when the span ends.
func (s *Span) SetAttribute(key string, value interface{}) {
	var attr attribute.KeyValue

	switch v := value.(type) {
	case string:
		attr = attribute.String(key, v)
	case int:
		attr = attribute.Int(key, v)
	case int64:
		attr = attribute.Int64(key, v)
	case float64:
		attr = attribute.Float64(key, v)
	case bool:
		attr = attribute.Bool(key, v)
	case time.Duration:
		attr = attribute.String(key, v.String())
	default:
		attr = attribute.String(key, fmt.Sprintf("%v", v))
	}

	s.attributes = append(s.attributes, attr)
}

// AddEvent adds an event to the span
func (s *Span) AddEvent(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// RecordError marks the span failed. A nil error marks it OK.
func (s *Span) RecordError(err error) {
	if err == nil {
		s.span.SetStatus(codes.Ok, "")
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// End applies pending attributes and ends the span.
func (s *Span) End() {
	s.attributes = append(s.attributes, attribute.String("duration", time.Since(s.startTime).String()))
	s.span.SetAttributes(s.attributes...)
	s.span.End()
}

// InjectHeaders propagates the trace context of ctx into outgoing headers.
func InjectHeaders(ctx context.Context, header http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(header))
}
