package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Aishwarya-Atre-1/ziggurat/engine"
	"github.com/Aishwarya-Atre-1/ziggurat/message"
	"github.com/Aishwarya-Atre-1/ziggurat/pkg/timestamp"
)

// Broker is an in-memory engine.SourceFactory
type Broker struct {
	mu      sync.Mutex
	subs    map[*subscription]struct{}
	history []*message.Message
	seq     uint64

	// SubscribeErr, when set, is returned by every Subscribe call
	SubscribeErr error

	acked  atomic.Int64
	nacked atomic.Int64
}

type subscription struct {
	broker  *Broker
	ctx     context.Context
	spec    engine.SourceSpec
	deliver engine.DeliverFunc
	onError func(error)
	stopped atomic.Bool
}

func (s *subscription) Stop() {
	if s.stopped.Swap(true) {
		return
	}
	s.broker.mu.Lock()
	delete(s.broker.subs, s)
	s.broker.mu.Unlock()
}

var _ engine.SourceFactory = (*Broker)(nil)

// NewBroker creates an empty broker
func NewBroker() *Broker {
	return &Broker{subs: make(map[*subscription]struct{})}
}

// Subscribe implements engine.SourceFactory
func (b *Broker) Subscribe(ctx context.Context, spec engine.SourceSpec, deliver engine.DeliverFunc,
	onError func(error)) (engine.Subscription, error) {
	b.mu.Lock()
	if b.SubscribeErr != nil {
		err := b.SubscribeErr
		b.mu.Unlock()
		return nil, err
	}

	sub := &subscription{broker: b, ctx: ctx, spec: spec, deliver: deliver, onError: onError}
	b.subs[sub] = struct{}{}
	var replay []*message.Message
	if spec.Props.AutoOffsetReset == engine.OffsetResetEarliest {
		replay = append(replay, b.history...)
	}
	b.mu.Unlock()

	for _, msg := range replay {
		b.send(sub, msg)
	}
	return sub, nil
}

// Publish sends value on topic with the current time as ingestion timestamp
func (b *Broker) Publish(topic, key string, value any) {
	b.PublishMessage(&message.Message{
		Topic:     topic,
		Key:       key,
		Value:     value,
		Timestamp: timestamp.Now(),
	})
}

// PublishAt sends value on topic with an explicit ingestion timestamp
func (b *Broker) PublishAt(topic, key string, value any, tsMillis int64) {
	b.PublishMessage(&message.Message{Topic: topic, Key: key, Value: value, Timestamp: tsMillis})
}

// PublishMessage delivers msg to every matching subscription and records it
// for earliest-offset replay.
func (b *Broker) PublishMessage(msg *message.Message) {
	b.mu.Lock()
	b.seq++
	msg.Sequence = b.seq
	if msg.Headers == nil {
		msg.Headers = message.Headers{}
	}
	b.history = append(b.history, msg)
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		b.send(s, msg)
	}
}

func (b *Broker) send(s *subscription, msg *message.Message) {
	if s.stopped.Load() || !s.spec.Pattern.MatchString(msg.Topic) {
		return
	}

	cp := *msg
	cp.Headers = msg.Headers.Clone()
	rec := engine.Record{
		Message: &cp,
		Ack: func() error {
			b.acked.Add(1)
			return nil
		},
		Nak: func() error {
			b.nacked.Add(1)
			return nil
		},
	}
	if err := s.deliver(s.ctx, rec); err != nil {
		_ = rec.Nak()
	}
}

// Fail reports err on every live subscription for the named source
func (b *Broker) Fail(source string, err error) {
	b.mu.Lock()
	var targets []*subscription
	for s := range b.subs {
		if s.spec.Name == source {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		s.onError(err)
	}
}

// Subscriptions returns the number of live subscriptions
func (b *Broker) Subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Specs returns the specs of live subscriptions
func (b *Broker) Specs() []engine.SourceSpec {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]engine.SourceSpec, 0, len(b.subs))
	for s := range b.subs {
		out = append(out, s.spec)
	}
	return out
}

// Acked returns how many records were acknowledged
func (b *Broker) Acked() int64 {
	return b.acked.Load()
}

// Nacked returns how many records were rejected by the pipeline
func (b *Broker) Nacked() int64 {
	return b.nacked.Load()
}
