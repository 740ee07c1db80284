package natsclient

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aishwarya-Atre-1/ziggurat/engine"
	zerrors "github.com/Aishwarya-Atre-1/ziggurat/errors"
	"github.com/Aishwarya-Atre-1/ziggurat/message"
)

// fakeMsg overrides the parts of jetstream.Msg the source touches
type fakeMsg struct {
	jetstream.Msg
	subject string
	data    []byte
	headers nats.Header
	meta    *jetstream.MsgMetadata

	acked, naked, termed int
}

func (m *fakeMsg) Subject() string      { return m.subject }
func (m *fakeMsg) Data() []byte         { return m.data }
func (m *fakeMsg) Headers() nats.Header { return m.headers }
func (m *fakeMsg) Ack() error           { m.acked++; return nil }
func (m *fakeMsg) Nak() error           { m.naked++; return nil }
func (m *fakeMsg) Term() error          { m.termed++; return nil }

func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	if m.meta == nil {
		return nil, errors.New("no metadata")
	}
	return m.meta, nil
}

func sourceSpec(pattern string) engine.SourceSpec {
	return engine.SourceSpec{
		Name:    "orders",
		Pattern: regexp.MustCompile("^(?:" + pattern + ")$"),
		Props: engine.Properties{
			ApplicationID:     "orders-app",
			AutoOffsetReset:   engine.OffsetResetEarliest,
			BufferedRecords:   10000,
			SessionTimeout:    time.Minute,
			ReplicationFactor: 3,
			KeySerde:          message.SerdeString,
			ValueSerde:        message.SerdeJSON,
		},
	}
}

func TestDurableName(t *testing.T) {
	assert.Equal(t, "orders-app-orders", DurableName("orders-app", "orders"))
	assert.Equal(t, "app_v1-orders__", DurableName("app.v1", "orders.>"))
	assert.Equal(t, "my_app-src_x", DurableName("my app", "src*x"))
}

func TestConsumerConfig(t *testing.T) {
	spec := sourceSpec("orders\\..*")

	cfg := consumerConfig(spec, []string{"orders.>"}, 1)
	assert.Equal(t, "orders-app-orders", cfg.Durable)
	assert.Equal(t, jetstream.AckExplicitPolicy, cfg.AckPolicy)
	assert.Equal(t, jetstream.DeliverAllPolicy, cfg.DeliverPolicy)
	assert.Equal(t, 10000, cfg.MaxAckPending)
	assert.Equal(t, time.Minute, cfg.AckWait)
	assert.Equal(t, 1, cfg.Replicas, "capped by stream replicas")
	assert.Equal(t, "orders.>", cfg.FilterSubject)
	assert.Empty(t, cfg.FilterSubjects)

	cfg = consumerConfig(spec, []string{"orders.>", "payments.>"}, 5)
	assert.Equal(t, 3, cfg.Replicas)
	assert.Empty(t, cfg.FilterSubject)
	assert.Equal(t, []string{"orders.>", "payments.>"}, cfg.FilterSubjects)
}

func TestDeliverPolicy(t *testing.T) {
	assert.Equal(t, jetstream.DeliverAllPolicy, deliverPolicy(engine.OffsetResetEarliest))
	assert.Equal(t, jetstream.DeliverNewPolicy, deliverPolicy(engine.OffsetResetLatest))
	assert.Equal(t, jetstream.DeliverNewPolicy, deliverPolicy(engine.OffsetResetUnset))
}

func TestDecodeMsg(t *testing.T) {
	published := time.UnixMilli(1709294400000)
	m := &fakeMsg{
		subject: "orders.created",
		data:    []byte(`{"id":7}`),
		headers: nats.Header{
			HeaderKey:                        []string{"order-7"},
			message.IngestionTimestampHeader: []string{"1709294399000"},
		},
		meta: &jetstream.MsgMetadata{
			Timestamp: published,
			Sequence:  jetstream.SequencePair{Stream: 42},
		},
	}

	msg, err := decodeMsg(sourceSpec("orders\\..*").Props, m)
	require.NoError(t, err)
	assert.Equal(t, "order-7", msg.Key)
	assert.Equal(t, map[string]any{"id": float64(7)}, msg.Value)
	assert.Equal(t, "orders.created", msg.Topic)
	assert.Equal(t, int64(1709294400000), msg.Timestamp)
	assert.Equal(t, uint64(42), msg.Sequence)
	assert.Equal(t, "1709294399000", msg.Headers.Get(message.IngestionTimestampHeader))
}

func TestDecodeMsg_BadValue(t *testing.T) {
	m := &fakeMsg{subject: "orders.created", data: []byte("{not json")}

	_, err := decodeMsg(sourceSpec("orders\\..*").Props, m)
	require.Error(t, err)
	assert.True(t, zerrors.IsInvalid(err))
}

func TestHandle(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	src := NewSource(client, "ZIGGURAT")
	spec := sourceSpec("orders\\..*")

	var delivered []engine.Record
	accept := func(_ context.Context, rec engine.Record) error {
		delivered = append(delivered, rec)
		return nil
	}

	t.Run("matching subject is delivered unacked", func(t *testing.T) {
		delivered = nil
		m := &fakeMsg{subject: "orders.created", data: []byte(`1`)}
		src.handle(context.Background(), spec, m, accept)

		require.Len(t, delivered, 1)
		assert.Equal(t, 0, m.acked)
		require.NoError(t, delivered[0].Ack())
		assert.Equal(t, 1, m.acked)
	})

	t.Run("non matching subject is acked and skipped", func(t *testing.T) {
		delivered = nil
		m := &fakeMsg{subject: "payments.created", data: []byte(`1`)}
		src.handle(context.Background(), spec, m, accept)

		assert.Empty(t, delivered)
		assert.Equal(t, 1, m.acked)
	})

	t.Run("undecodable message is terminated", func(t *testing.T) {
		delivered = nil
		m := &fakeMsg{subject: "orders.created", data: []byte(`{`)}
		src.handle(context.Background(), spec, m, accept)

		assert.Empty(t, delivered)
		assert.Equal(t, 1, m.termed)
	})

	t.Run("rejected delivery is naked", func(t *testing.T) {
		m := &fakeMsg{subject: "orders.created", data: []byte(`1`)}
		src.handle(context.Background(), spec, m, func(context.Context, engine.Record) error {
			return errors.New("pipeline stopped")
		})
		assert.Equal(t, 1, m.naked)
	})
}

func TestSubscribe_NotConnected(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	_, err = NewSource(client, "ZIGGURAT").Subscribe(context.Background(), sourceSpec("orders"),
		func(context.Context, engine.Record) error { return nil }, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, zerrors.ErrConsumerFailed)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, isTerminal(jetstream.ErrConsumerDeleted))
	assert.True(t, isTerminal(nats.ErrConnectionClosed))
	assert.False(t, isTerminal(jetstream.ErrNoHeartbeat))
}
