// Package observability provides logging, metrics, and tracing utilities.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer starts spans. Application code depends on this interface, never on
// the OpenTelemetry SDK directly.
type Tracer interface {
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span)
	SpanFromContext(ctx context.Context) Span
}

// Span represents a unit of work in a trace.
type Span interface {
	End()
	SetStatus(code SpanStatus, description string)
	SetAttributes(attrs ...attribute.KeyValue)
	SetAttribute(key string, value any)
	AddEvent(name string, attrs ...attribute.KeyValue)
	RecordError(err error)
	// NoticeError records an error AND sets span status to Error.
	NoticeError(err error)
	TraceID() string
}

// SpanStatus represents the status of a span.
type SpanStatus int

const (
	SpanStatusUnset SpanStatus = iota
	SpanStatusOK
	SpanStatusError
)

// SpanOption configures span creation.
type SpanOption func(*spanConfig)

type spanConfig struct {
	kind       trace.SpanKind
	attributes []attribute.KeyValue
}

// WithSpanKind sets the span kind (Client, Server, Producer, Consumer, Internal).
func WithSpanKind(kind trace.SpanKind) SpanOption {
	return func(c *spanConfig) {
		c.kind = kind
	}
}

// WithAttributes adds attributes to the span at creation time.
func WithAttributes(attrs ...attribute.KeyValue) SpanOption {
	return func(c *spanConfig) {
		c.attributes = append(c.attributes, attrs...)
	}
}

type otelTracer struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer backed by the global OpenTelemetry provider.
func NewTracer(name string) Tracer {
	return &otelTracer{tracer: otel.Tracer(name)}
}

func (t *otelTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	cfg := &spanConfig{kind: trace.SpanKindInternal}
	for _, opt := range opts {
		opt(cfg)
	}

	otelOpts := []trace.SpanStartOption{trace.WithSpanKind(cfg.kind)}
	if len(cfg.attributes) > 0 {
		otelOpts = append(otelOpts, trace.WithAttributes(cfg.attributes...))
	}

	ctx, span := t.tracer.Start(ctx, name, otelOpts...)
	return ctx, &otelSpan{span: span}
}

func (t *otelTracer) SpanFromContext(ctx context.Context) Span {
	return &otelSpan{span: trace.SpanFromContext(ctx)}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() {
	s.span.End()
}

func (s *otelSpan) SetStatus(code SpanStatus, description string) {
	var otelCode codes.Code
	switch code {
	case SpanStatusOK:
		otelCode = codes.Ok
	case SpanStatusError:
		otelCode = codes.Error
	default:
		otelCode = codes.Unset
	}
	s.span.SetStatus(otelCode, description)
}

func (s *otelSpan) SetAttributes(attrs ...attribute.KeyValue) {
	s.span.SetAttributes(attrs...)
}

func (s *otelSpan) SetAttribute(key string, value any) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) AddEvent(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

func (s *otelSpan) RecordError(err error) {
	if err != nil {
		s.span.RecordError(err)
	}
}

func (s *otelSpan) NoticeError(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
}

func (s *otelSpan) TraceID() string {
	return s.span.SpanContext().TraceID().String()
}

type noopTracer struct{}

// NewNoopTracer returns a tracer that does nothing.
func NewNoopTracer() Tracer {
	return noopTracer{}
}

func (noopTracer) StartSpan(ctx context.Context, _ string, _ ...SpanOption) (context.Context, Span) {
	return ctx, noopSpan{}
}

func (noopTracer) SpanFromContext(_ context.Context) Span {
	return noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End()                                       {}
func (noopSpan) SetStatus(_ SpanStatus, _ string)           {}
func (noopSpan) SetAttributes(_ ...attribute.KeyValue)      {}
func (noopSpan) SetAttribute(_ string, _ any)               {}
func (noopSpan) AddEvent(_ string, _ ...attribute.KeyValue) {}
func (noopSpan) RecordError(_ error)                        {}
func (noopSpan) NoticeError(_ error)                        {}
func (noopSpan) TraceID() string                            { return "" }
