package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Header names used for propagation
const (
	HeaderTraceID     = "x-trace-id"
	HeaderSpanID      = "x-span-id"
	HeaderTraceParent = "traceparent"
)

// Span attribute keys for consumer spans
const (
	AttrComponent = "component"
	AttrTopic     = "messaging.destination.name"
)

const instrumentationName = "github.com/Aishwarya-Atre-1/ziggurat/tracing"

// HeaderCarrier adapts message headers to propagation.TextMapCarrier.
// Get matches keys case-insensitively.
type HeaderCarrier map[string]string

// Get returns the value for key
func (c HeaderCarrier) Get(key string) string {
	if v, ok := c[key]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range c {
		if strings.EqualFold(strings.TrimSpace(k), key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Set stores value under key
func (c HeaderCarrier) Set(key, value string) {
	c[key] = value
}

// Keys lists the carrier keys
func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// IDPropagator carries a span context as separate hex x-trace-id and
// x-span-id headers. Values that are not valid W3C ids are ignored.
type IDPropagator struct{}

var _ propagation.TextMapPropagator = IDPropagator{}

// Inject writes the span context of ctx into carrier
func (IDPropagator) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return
	}
	carrier.Set(HeaderTraceID, sc.TraceID().String())
	carrier.Set(HeaderSpanID, sc.SpanID().String())
}

// Extract returns ctx carrying the remote span context found in carrier
func (IDPropagator) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	traceID, err := trace.TraceIDFromHex(carrier.Get(HeaderTraceID))
	if err != nil {
		return ctx
	}
	spanID, err := trace.SpanIDFromHex(carrier.Get(HeaderSpanID))
	if err != nil {
		return ctx
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return trace.ContextWithRemoteSpanContext(ctx, sc)
}

// Fields returns the header names the propagator reads
func (IDPropagator) Fields() []string {
	return []string{HeaderTraceID, HeaderSpanID}
}

// Propagator is the default header propagator. A valid traceparent takes
// precedence over x-trace-id/x-span-id.
func Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(IDPropagator{}, propagation.TraceContext{})
}

// Tracer starts consumer spans for message handling
type Tracer struct {
	service    string
	logger     *slog.Logger
	provider   trace.TracerProvider
	owned      *sdktrace.TracerProvider
	propagator propagation.TextMapPropagator
	tracer     trace.Tracer
}

// Option configures a Tracer
type Option func(*Tracer)

// WithLogger sets the logger finished spans are written to when the tracer
// owns its provider
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithTracerProvider starts spans on tp. The caller owns tp's lifecycle.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(t *Tracer) {
		t.provider = tp
	}
}

// WithPropagator replaces the header propagator
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(t *Tracer) {
		if p != nil {
			t.propagator = p
		}
	}
}

// New creates a tracer for service. Without WithTracerProvider it owns an
// SDK provider that logs finished spans; release it with Shutdown.
func New(service string, opts ...Option) *Tracer {
	t := &Tracer{
		service:    service,
		logger:     slog.Default().With("component", "tracer"),
		propagator: Propagator(),
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.provider == nil {
		t.owned = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(NewLogExporter(t.logger)),
		)
		t.provider = t.owned
	}
	t.tracer = t.provider.Tracer(instrumentationName)
	return t
}

// Service returns the service name spans are tagged with
func (t *Tracer) Service() string {
	return t.service
}

// StartConsumerSpan starts a consumer span for one message, parented to
// the trace context in headers or a new root when there is none.
func (t *Tracer) StartConsumerSpan(ctx context.Context, name string, headers map[string]string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx = t.propagator.Extract(ctx, HeaderCarrier(headers))
	attrs = append([]attribute.KeyValue{attribute.String(AttrComponent, t.service)}, attrs...)
	return t.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attrs...),
	)
}

// Inject writes the span context carried by ctx into headers
func (t *Tracer) Inject(ctx context.Context, headers map[string]string) {
	t.propagator.Inject(ctx, HeaderCarrier(headers))
}

// Shutdown flushes and stops an owned provider. It is a no-op for a
// provider supplied with WithTracerProvider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.owned == nil {
		return nil
	}
	return t.owned.Shutdown(ctx)
}

// FormatTrace returns the span context of ctx formatted for logging, or ""
// when ctx carries none
func FormatTrace(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return fmt.Sprintf("[trace:%s span:%s]", sc.TraceID(), sc.SpanID())
}

// LogExporter writes finished spans to a logger
type LogExporter struct {
	logger *slog.Logger
}

var _ sdktrace.SpanExporter = (*LogExporter)(nil)

// NewLogExporter creates an exporter logging to logger
func NewLogExporter(logger *slog.Logger) *LogExporter {
	return &LogExporter{logger: logger}
}

// ExportSpans logs each span, at warn level when its status is an error
func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		attrs := []any{
			"trace_id", span.SpanContext().TraceID().String(),
			"span_id", span.SpanContext().SpanID().String(),
			"operation", span.Name(),
			"duration", span.EndTime().Sub(span.StartTime()),
		}
		if parent := span.Parent(); parent.IsValid() {
			attrs = append(attrs, "parent_id", parent.SpanID().String())
		}

		if status := span.Status(); status.Code == codes.Error {
			attrs = append(attrs, "error", status.Description)
			e.logger.WarnContext(ctx, "span completed with error", attrs...)
		} else {
			e.logger.DebugContext(ctx, "span completed", attrs...)
		}
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter
func (e *LogExporter) Shutdown(context.Context) error {
	return nil
}
