package streams

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Aishwarya-Atre-1/ziggurat/message"
	"github.com/Aishwarya-Atre-1/ziggurat/metric"
	"github.com/Aishwarya-Atre-1/ziggurat/tracing"
)

// Stages binds the instrumentation stages of one entity to its telemetry
// sinks. A nil metrics disables recording; the tracer is required.
type Stages struct {
	service string
	entity  string
	metrics *metric.Metrics
	tracer  *tracing.Tracer
	now     func() time.Time
}

// NewStages creates the stages for entity, labelled with service
func NewStages(service, entity string, metrics *metric.Metrics, tracer *tracing.Tracer) *Stages {
	return &Stages{
		service: service,
		entity:  entity,
		metrics: metrics,
		tracer:  tracer,
		now:     time.Now,
	}
}

// delay returns the message age and whether it is within horizon.
// A zero horizon accepts any age.
func (s *Stages) delay(msg *message.Message, horizon time.Duration) (time.Duration, bool) {
	age := max(msg.Age(s.now()), 0)
	if horizon > 0 && age > horizon {
		return age, false
	}
	return age, true
}

// RecordLatency observes the ingestion delay of each message. Messages
// older than horizon are forwarded without being recorded.
func (s *Stages) RecordLatency(horizon time.Duration) func(context.Context, *message.Message) {
	return func(_ context.Context, msg *message.Message) {
		if d, ok := s.delay(msg, horizon); ok && s.metrics != nil {
			s.metrics.RecordReceivedDelay(s.service, s.entity, d)
		}
	}
}

// RecordJoinsLatency is RecordLatency for one input topic of a join
func (s *Stages) RecordJoinsLatency(inputTopic string, horizon time.Duration) func(context.Context, *message.Message) {
	return func(_ context.Context, msg *message.Message) {
		if d, ok := s.delay(msg, horizon); ok && s.metrics != nil {
			s.metrics.RecordJoinsReceivedDelay(s.service, s.entity, inputTopic, d)
		}
	}
}

// CountRead counts every message passing the stage
func (s *Stages) CountRead() func(context.Context, *message.Message) {
	return func(context.Context, *message.Message) {
		if s.metrics != nil {
			s.metrics.RecordMessageRead(s.service, s.entity)
		}
	}
}

// CountJoinsRead counts messages of one input topic of a join
func (s *Stages) CountJoinsRead(inputTopic string) func(context.Context, *message.Message) {
	return func(context.Context, *message.Message) {
		if s.metrics != nil {
			s.metrics.RecordJoinsMessageRead(s.service, s.entity, inputTopic)
		}
	}
}

// PropagateHeaders returns a copy of msg with normalized header keys so
// trace extraction downstream does not depend on producer casing.
func PropagateHeaders(msg *message.Message) *message.Message {
	out := *msg
	out.Headers = msg.Headers.Normalized()
	return &out
}

// Traced runs handler inside a consumer span parented to any trace context
// in the message headers. The span is ended on every exit path; a
// panicking handler is recorded on the span and the panic continues.
func (s *Stages) Traced(handler message.HandlerFunc) message.HandlerFunc {
	return func(ctx context.Context, msg *message.Message) (err error) {
		spanCtx, span := s.tracer.StartConsumerSpan(ctx, s.entity, msg.Headers,
			attribute.String(tracing.AttrTopic, msg.Topic))
		start := s.now()

		defer func() {
			r := recover()
			if r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
			if s.metrics != nil {
				s.metrics.RecordHandlerDuration(s.entity, s.now().Sub(start), err)
			}
			if r != nil {
				panic(r)
			}
		}()

		return handler(spanCtx, msg)
	}
}

// withChannels makes the route's channel ids visible to handler
func withChannels(handler message.HandlerFunc, channels []string) message.HandlerFunc {
	if len(channels) == 0 {
		return handler
	}
	return func(ctx context.Context, msg *message.Message) error {
		return handler(message.WithChannels(ctx, channels), msg)
	}
}
