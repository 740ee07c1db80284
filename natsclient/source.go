package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Aishwarya-Atre-1/ziggurat/engine"
	"github.com/Aishwarya-Atre-1/ziggurat/errors"
	"github.com/Aishwarya-Atre-1/ziggurat/message"
	"github.com/Aishwarya-Atre-1/ziggurat/pkg/timestamp"
)

// maxPullBatch bounds a single pull request regardless of buffered records
const maxPullBatch = 500

// Source opens JetStream consumers for pipeline sources
type Source struct {
	client   *Client
	stream   string
	subjects []string
	logger   *slog.Logger
}

var _ engine.SourceFactory = (*Source)(nil)

// SourceOption configures a Source
type SourceOption func(*Source)

// WithSubjects restricts consumers to the given subject filters
func WithSubjects(subjects ...string) SourceOption {
	return func(s *Source) {
		s.subjects = append(s.subjects, subjects...)
	}
}

// WithSourceLogger sets the logger used for per-message warnings
func WithSourceLogger(logger *slog.Logger) SourceOption {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSource creates a source reading from the named stream
func NewSource(client *Client, stream string, opts ...SourceOption) *Source {
	s := &Source{client: client, stream: stream, logger: client.logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DurableName returns the consumer name for a pipeline source. Characters
// that NATS forbids in consumer names are replaced with underscores.
func DurableName(applicationID, source string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '/', '\\':
			return '_'
		}
		return r
	}, applicationID+"-"+source)
}

func deliverPolicy(reset engine.OffsetReset) jetstream.DeliverPolicy {
	if reset == engine.OffsetResetEarliest {
		return jetstream.DeliverAllPolicy
	}
	return jetstream.DeliverNewPolicy
}

// consumerConfig maps pipeline properties onto a durable pull consumer.
// Replicas are capped by the stream's own replica count.
func consumerConfig(spec engine.SourceSpec, subjects []string, streamReplicas int) jetstream.ConsumerConfig {
	props := spec.Props
	cfg := jetstream.ConsumerConfig{
		Durable:       DurableName(props.ApplicationID, spec.Name),
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: deliverPolicy(props.AutoOffsetReset),
		MaxAckPending: props.BufferedRecords,
		AckWait:       props.SessionTimeout,
	}
	if props.ReplicationFactor > 0 {
		cfg.Replicas = props.ReplicationFactor
		if streamReplicas > 0 && cfg.Replicas > streamReplicas {
			cfg.Replicas = streamReplicas
		}
	}
	switch len(subjects) {
	case 0:
	case 1:
		cfg.FilterSubject = subjects[0]
	default:
		cfg.FilterSubjects = subjects
	}
	return cfg
}

// Subscribe creates or reuses the durable consumer for spec and starts
// delivering matching messages.
func (s *Source) Subscribe(ctx context.Context, spec engine.SourceSpec, deliver engine.DeliverFunc,
	onError func(error)) (engine.Subscription, error) {
	js, err := s.client.ready()
	if err != nil {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrConsumerFailed, err),
			"Source", "Subscribe", "check connection")
	}

	setupCtx := ctx
	if spec.Props.APITimeout > 0 {
		var cancel context.CancelFunc
		setupCtx, cancel = context.WithTimeout(ctx, spec.Props.APITimeout)
		defer cancel()
	}

	stream, err := js.Stream(setupCtx, s.stream)
	if err != nil {
		s.client.recordFailure()
		s.client.jsMetrics.recordError("lookup_stream")
		return nil, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrConsumerFailed, err),
			"Source", "Subscribe", "look up stream "+s.stream)
	}
	s.client.jsMetrics.trackStream(s.stream, stream)

	cfg := consumerConfig(spec, s.subjects, stream.CachedInfo().Config.Replicas)
	consumer, err := stream.CreateOrUpdateConsumer(setupCtx, cfg)
	if isAlreadyExistsError(err) {
		consumer, err = stream.Consumer(setupCtx, cfg.Durable)
	}
	if err != nil {
		s.client.recordFailure()
		s.client.jsMetrics.recordError("create_consumer")
		return nil, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrConsumerFailed, err),
			"Source", "Subscribe", "create consumer "+cfg.Durable)
	}
	s.client.jsMetrics.trackConsumer(s.stream, cfg.Durable, consumer)

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		source:  s,
		durable: cfg.Durable,
		cancel:  cancel,
	}

	batch := min(max(spec.Props.BufferedRecords, 1), maxPullBatch)
	cc, err := consumer.Consume(
		func(m jetstream.Msg) { s.handle(subCtx, spec, m, deliver) },
		jetstream.PullMaxMessages(batch),
		jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
			if isTerminal(err) {
				sub.failOnce(onError, err)
				return
			}
			s.logger.Warn("consume error", "consumer", cfg.Durable, "error", err)
		}),
	)
	if err != nil {
		cancel()
		s.client.recordFailure()
		return nil, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrConsumerFailed, err),
			"Source", "Subscribe", "start consume "+cfg.Durable)
	}
	sub.cc = cc

	s.client.resetCircuit()
	s.logger.Info("consumer started", "consumer", cfg.Durable, "stream", s.stream,
		"source", spec.Name, "offset_reset", spec.Props.AutoOffsetReset)
	return sub, nil
}

func isTerminal(err error) bool {
	return stderrors.Is(err, jetstream.ErrConsumerDeleted) ||
		stderrors.Is(err, nats.ErrConnectionClosed)
}

// handle filters, decodes and delivers one message
func (s *Source) handle(ctx context.Context, spec engine.SourceSpec, m jetstream.Msg, deliver engine.DeliverFunc) {
	if spec.Pattern != nil && !spec.Pattern.MatchString(m.Subject()) {
		_ = m.Ack()
		return
	}

	msg, err := decodeMsg(spec.Props, m)
	if err != nil {
		s.logger.Warn("dropping undecodable message", "subject", m.Subject(), "error", err)
		_ = m.Term()
		return
	}

	rec := engine.Record{
		Message: msg,
		Ack:     m.Ack,
		Nak:     m.Nak,
	}
	if err := deliver(ctx, rec); err != nil {
		_ = m.Nak()
	}
}

// decodeMsg converts a JetStream message using the configured serdes
func decodeMsg(props engine.Properties, m jetstream.Msg) (*message.Message, error) {
	headers := make(message.Headers, len(m.Headers()))
	for k, vs := range m.Headers() {
		if len(vs) > 0 {
			headers[k] = vs[0]
		}
	}

	key, err := message.DecodeKey(props.KeySerde, []byte(m.Headers().Get(HeaderKey)))
	if err != nil {
		return nil, err
	}
	value, err := message.Decode(props.ValueSerde, m.Data())
	if err != nil {
		return nil, err
	}

	msg := &message.Message{
		Key:     key,
		Value:   value,
		Headers: headers,
		Topic:   m.Subject(),
	}
	if md, err := m.Metadata(); err == nil {
		msg.Timestamp = timestamp.ToUnixMs(md.Timestamp)
		msg.Sequence = md.Sequence.Stream
	} else {
		msg.Timestamp = timestamp.Now()
	}
	return msg, nil
}

type subscription struct {
	source  *Source
	durable string
	cc      jetstream.ConsumeContext
	cancel  context.CancelFunc

	stopOnce sync.Once
	failed   sync.Once
}

// Stop ends consumption. The durable consumer is kept so a restarted
// pipeline resumes from its acknowledged position.
func (s *subscription) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		if s.cc != nil {
			s.cc.Stop()
		}
		s.source.client.jsMetrics.untrackConsumer(s.source.stream, s.durable)
	})
}

func (s *subscription) failOnce(onError func(error), err error) {
	s.failed.Do(func() {
		if onError != nil {
			onError(errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrConnectionLost, err),
				"Source", "Consume", "consumer "+s.durable))
		}
	})
}
