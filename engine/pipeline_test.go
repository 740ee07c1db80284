package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aishwarya-Atre-1/ziggurat/engine"
	zerrors "github.com/Aishwarya-Atre-1/ziggurat/errors"
	"github.com/Aishwarya-Atre-1/ziggurat/message"
	"github.com/Aishwarya-Atre-1/ziggurat/metric"
	"github.com/Aishwarya-Atre-1/ziggurat/pkg/worker"
	"github.com/Aishwarya-Atre-1/ziggurat/testutil"
	"github.com/Aishwarya-Atre-1/ziggurat/topology"
)

func props(id string) engine.Properties {
	return engine.Properties{
		ApplicationID:   id,
		AutoOffsetReset: engine.OffsetResetLatest,
		BufferedRecords: 100,
		StreamThreads:   2,
		CloseTimeout:    time.Second,
	}
}

func singleSource(t *testing.T, pattern string, h message.HandlerFunc) *topology.Topology {
	t.Helper()
	b := topology.NewBuilder()
	b.Stream("source", pattern).Foreach("handler", h)
	topo, err := b.Build()
	require.NoError(t, err)
	return topo
}

type uncaughtLog struct {
	mu    sync.Mutex
	names []string
	errs  []error
}

func (u *uncaughtLog) handle(name string, err error) {
	u.mu.Lock()
	u.names = append(u.names, name)
	u.errs = append(u.errs, err)
	u.mu.Unlock()
}

func (u *uncaughtLog) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.errs)
}

func TestParseOffsetReset(t *testing.T) {
	for _, ok := range []string{"", "latest", "earliest"} {
		_, err := engine.ParseOffsetReset(ok)
		assert.NoError(t, err, ok)
	}
	for _, bad := range []string{"none", "LATEST", "beginning"} {
		_, err := engine.ParseOffsetReset(bad)
		require.Error(t, err, bad)
		assert.True(t, zerrors.IsInvalid(err))
		assert.ErrorIs(t, err, zerrors.ErrInvalidConfig)
	}
}

func TestIngestionTimeExtractor(t *testing.T) {
	msg := &message.Message{Timestamp: 100, Headers: message.Headers{}}
	assert.Equal(t, int64(100), engine.IngestionTimeExtractor(msg))

	msg.Headers["Ingestion-Timestamp"] = "1709294400000"
	assert.Equal(t, int64(1709294400000), engine.IngestionTimeExtractor(msg))

	msg.Headers["Ingestion-Timestamp"] = "not a time"
	assert.Equal(t, int64(100), engine.IngestionTimeExtractor(msg))
}

func TestNew_Validation(t *testing.T) {
	broker := testutil.NewBroker()
	topo := singleSource(t, "t", testutil.NewRecorder().Handle)

	_, err := engine.New(nil, props("a"), broker)
	assert.Error(t, err)

	_, err = engine.New(topo, props("a"), nil)
	assert.Error(t, err)

	bad := props("a")
	bad.AutoOffsetReset = "sometimes"
	_, err = engine.New(topo, bad, broker)
	assert.ErrorIs(t, err, zerrors.ErrInvalidConfig)

	bad = props("")
	_, err = engine.New(topo, bad, broker)
	assert.True(t, zerrors.IsInvalid(err))
}

func TestPipeline_Lifecycle(t *testing.T) {
	broker := testutil.NewBroker()
	rec := testutil.NewRecorder()

	var mu sync.Mutex
	var transitions []engine.State

	p, err := engine.New(singleSource(t, "orders-.*", rec.Handle), props("orders"), broker)
	require.NoError(t, err)
	p.SetStateListener(func(_, to engine.State) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
	})
	assert.Equal(t, engine.Created, p.State())

	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, engine.Running, p.State())
	assert.Equal(t, 1, broker.Subscriptions())

	err = p.Start(context.Background())
	assert.ErrorIs(t, err, zerrors.ErrAlreadyStarted)

	broker.Publish("orders-eu", "k1", "v1")
	broker.Publish("payments", "k1", "ignored")
	require.Eventually(t, func() bool { return rec.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []any{"v1"}, rec.Values())

	assert.True(t, p.Close(time.Second))
	assert.Equal(t, engine.NotRunning, p.State())
	assert.Equal(t, 0, broker.Subscriptions())
	assert.True(t, p.Close(time.Second), "closing twice is a no-op")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []engine.State{engine.Running, engine.PendingShutdown, engine.NotRunning}, transitions)
}

func TestPipeline_HandlerErrorGoesToUncaughtHandler(t *testing.T) {
	broker := testutil.NewBroker()
	rec := testutil.NewRecorder()
	rec.SetErr(errors.New("handler failed"))
	hook := &uncaughtLog{}

	p, err := engine.New(singleSource(t, "orders", rec.Handle), props("orders"), broker)
	require.NoError(t, err)
	p.SetUncaughtErrorHandler(hook.handle)
	require.NoError(t, p.Start(context.Background()))
	defer p.Close(time.Second)

	broker.Publish("orders", "k", "v")
	require.Eventually(t, func() bool { return hook.count() == 1 }, time.Second, 5*time.Millisecond)

	hook.mu.Lock()
	assert.Regexp(t, `^orders-StreamThread-\d+$`, hook.names[0])
	assert.EqualError(t, hook.errs[0], "handler failed")
	hook.mu.Unlock()

	assert.Equal(t, engine.Running, p.State(), "handler errors do not stop the pipeline")
	assert.Eventually(t, func() bool { return broker.Acked() == 1 }, time.Second, 5*time.Millisecond)
}

func TestPipeline_PanicStopsPipeline(t *testing.T) {
	broker := testutil.NewBroker()
	rec := testutil.NewRecorder()
	rec.SetPanic("boom")
	hook := &uncaughtLog{}

	p, err := engine.New(singleSource(t, "orders", rec.Handle), props("orders"), broker)
	require.NoError(t, err)
	p.SetUncaughtErrorHandler(hook.handle)
	require.NoError(t, p.Start(context.Background()))

	broker.Publish("orders", "k", "v")

	require.Eventually(t, func() bool { return p.State() == engine.NotRunning }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, hook.count())
	assert.Equal(t, int64(0), broker.Acked())
}

func TestPipeline_SourceFailureStopsPipeline(t *testing.T) {
	broker := testutil.NewBroker()
	p, err := engine.New(singleSource(t, "orders", testutil.NewRecorder().Handle), props("orders"), broker)
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))

	broker.Fail("source", errors.New("consumer deleted"))
	require.Eventually(t, func() bool { return p.State() == engine.NotRunning }, 2*time.Second, 5*time.Millisecond)
}

func TestPipeline_SubscribeErrorFailsStart(t *testing.T) {
	broker := testutil.NewBroker()
	broker.SubscribeErr = errors.New("no stream")

	p, err := engine.New(singleSource(t, "orders", testutil.NewRecorder().Handle), props("orders"), broker)
	require.NoError(t, err)

	err = p.Start(context.Background())
	require.Error(t, err)
	assert.True(t, zerrors.IsTransient(err))
	assert.Equal(t, engine.NotRunning, p.State())
}

func TestPipeline_CloseTimeout(t *testing.T) {
	broker := testutil.NewBroker()
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	topo := singleSource(t, "slow", func(context.Context, *message.Message) error {
		started <- struct{}{}
		<-release
		return nil
	})
	pr := props("slow")
	pr.StreamThreads = 1
	p, err := engine.New(topo, pr, broker)
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))

	go broker.Publish("slow", "k", "v")
	<-started

	assert.False(t, p.Close(20*time.Millisecond))
	assert.Equal(t, engine.PendingShutdown, p.State())

	close(release)
	require.Eventually(t, func() bool { return p.State() == engine.NotRunning }, time.Second, 5*time.Millisecond)
}

func TestPipeline_EarliestReplaysHistory(t *testing.T) {
	broker := testutil.NewBroker()
	broker.Publish("orders", "k", "before")

	rec := testutil.NewRecorder()
	pr := props("orders")
	pr.AutoOffsetReset = engine.OffsetResetEarliest
	p, err := engine.New(singleSource(t, "orders", rec.Handle), pr, broker)
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	defer p.Close(time.Second)

	require.Eventually(t, func() bool { return rec.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []any{"before"}, rec.Values())
}

func TestPipeline_EarliestReplaysEveryRecordOfEverySource(t *testing.T) {
	const perTopic = 2000

	broker := testutil.NewBroker()
	for i := 0; i < perTopic; i++ {
		key := fmt.Sprintf("k%d", i%17)
		broker.Publish("orders", key, i)
		broker.Publish("payments", key, i)
	}

	rec := testutil.NewRecorder()
	b := topology.NewBuilder()
	b.Stream("orders-source", "orders").Foreach("orders-handler", rec.Handle)
	b.Stream("payments-source", "payments").Foreach("payments-handler", rec.Handle)
	topo, err := b.Build()
	require.NoError(t, err)

	pr := props("replay")
	pr.AutoOffsetReset = engine.OffsetResetEarliest
	pr.StreamThreads = 4
	p, err := engine.New(topo, pr, broker)
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	defer p.Close(time.Second)

	require.Eventually(t, func() bool { return rec.Len() == 2*perTopic }, 5*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return broker.Acked() == 2*perTopic }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), broker.Nacked())
	assert.Equal(t, engine.Running, p.State())
}

func TestPipeline_RunningBeforeSourcesDeliver(t *testing.T) {
	broker := testutil.NewBroker()
	broker.Publish("orders", "k", "before")

	var p *engine.Pipeline
	seen := make(chan engine.State, 1)
	topo := singleSource(t, "orders", func(context.Context, *message.Message) error {
		seen <- p.State()
		return nil
	})

	pr := props("orders")
	pr.AutoOffsetReset = engine.OffsetResetEarliest
	var err error
	p, err = engine.New(topo, pr, broker)
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	defer p.Close(time.Second)

	select {
	case st := <-seen:
		assert.Equal(t, engine.Running, st)
	case <-time.After(time.Second):
		t.Fatal("replayed record was not handled")
	}
	assert.Eventually(t, func() bool { return broker.Acked() == 1 }, time.Second, 5*time.Millisecond)
}

func TestPipeline_SubscribeErrorTransitions(t *testing.T) {
	broker := testutil.NewBroker()
	broker.SubscribeErr = errors.New("no stream")

	var mu sync.Mutex
	var transitions []engine.State
	p, err := engine.New(singleSource(t, "orders", testutil.NewRecorder().Handle), props("orders"), broker)
	require.NoError(t, err)
	p.SetStateListener(func(_, to engine.State) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
	})

	require.Error(t, p.Start(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []engine.State{engine.Running, engine.Error, engine.PendingShutdown, engine.NotRunning}, transitions)
}

func TestPipeline_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	m, err := engine.NewMetrics(registry)
	require.NoError(t, err)
	wm, err := worker.NewMetrics(registry)
	require.NoError(t, err)

	broker := testutil.NewBroker()
	rec := testutil.NewRecorder()
	p, err := engine.New(singleSource(t, "orders", rec.Handle), props("orders"), broker,
		engine.WithMetrics(m), engine.WithWorkerMetrics(wm))
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))

	broker.Publish("orders", "k", "v")
	require.Eventually(t, func() bool { return rec.Len() == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, p.Close(time.Second))

	count, err := promtest.GatherAndCount(registry.PrometheusRegistry(), "ziggurat_pipeline_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	nilMetrics, err := engine.NewMetrics(nil)
	assert.NoError(t, err)
	assert.Nil(t, nilMetrics)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "NOT_RUNNING", engine.NotRunning.String())
	assert.Equal(t, "PENDING_SHUTDOWN", engine.PendingShutdown.String())
	assert.Equal(t, "UNKNOWN", engine.State(99).String())
	assert.True(t, engine.Running.IsRunning())
}
