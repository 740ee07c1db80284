package service_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/Aishwarya-Atre-1/ziggurat/config"
	"github.com/Aishwarya-Atre-1/ziggurat/engine"
	"github.com/Aishwarya-Atre-1/ziggurat/health"
	"github.com/Aishwarya-Atre-1/ziggurat/metric"
	"github.com/Aishwarya-Atre-1/ziggurat/natsclient"
	"github.com/Aishwarya-Atre-1/ziggurat/service"
	"github.com/Aishwarya-Atre-1/ziggurat/streams"
	"github.com/Aishwarya-Atre-1/ziggurat/testutil"
)

type fakeBroker struct {
	status natsclient.ConnectionStatus
}

func (f fakeBroker) GetStatus() *natsclient.Status {
	return &natsclient.Status{Status: f.status, RTT: time.Millisecond}
}

type fixture struct {
	server   *httptest.Server
	manager  *streams.Manager
	broker   *testutil.Broker
	registry *metric.MetricsRegistry
	orders   *testutil.Recorder
}

func newFixture(t *testing.T, nats service.BrokerStatus, extra ...service.ControlOption) *fixture {
	t.Helper()

	defaults := config.DefaultStreamConfig()
	defaults.StreamThreadsCount = 1
	cfg := &config.Config{
		AppName:         "orders-svc",
		ShutdownTimeout: time.Second,
		DefaultStream:   defaults,
		StreamRouter: map[string]config.StreamConfig{
			"orders":   {OriginTopic: "orders"},
			"payments": {OriginTopic: "payments"},
		},
	}

	f := &fixture{
		broker:   testutil.NewBroker(),
		registry: metric.NewMetricsRegistry(),
		orders:   testutil.NewRecorder(),
	}
	m, err := streams.NewManager(cfg, f.broker, streams.WithMetricsRegistry(f.registry))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown() })
	f.manager = m

	_, err = m.StartAll(context.Background(), streams.Routes{
		"orders":   {Handler: f.orders.Handle},
		"payments": {Handler: testutil.NewRecorder().Handle},
	})
	require.NoError(t, err)

	opts := []service.ControlOption{service.WithMetricsGatherer(f.registry)}
	if nats != nil {
		opts = append(opts, service.WithBroker(nats))
	}
	opts = append(opts, extra...)
	ctrl := service.NewControlServer(0, m, opts...)
	f.server = httptest.NewServer(ctrl.Handler())
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestControl_ListStreams(t *testing.T) {
	f := newFixture(t, nil)

	var body struct {
		Streams []service.StreamInfo `json:"streams"`
		Count   int                  `json:"count"`
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/streams", &body))
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Streams, 2)
	assert.Equal(t, "orders", body.Streams[0].Entity)
	assert.Equal(t, "RUNNING", body.Streams[0].State)
	assert.True(t, body.Streams[0].Healthy)
}

func TestControl_GetStream(t *testing.T) {
	f := newFixture(t, nil)

	f.broker.Publish("orders", "k", "v")
	require.Eventually(t, func() bool { return f.orders.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	var info service.StreamInfo
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/streams/orders", &info))
	assert.Equal(t, "orders", info.Entity)
	assert.Equal(t, "RUNNING", info.State)
	require.NotNil(t, info.Health)
	assert.Equal(t, health.LevelHealthy, info.Health.Status)
	assert.Equal(t, 1.0, info.Counters["ziggurat_message_read_total"])

	var missing map[string]string
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/streams/refunds", &missing))
	assert.NotEmpty(t, missing["error"])
}

func TestControl_StopAndRestart(t *testing.T) {
	f := newFixture(t, nil)

	var resp service.ActionResponse
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/streams/orders/stop", &resp))
	assert.True(t, resp.Changed)
	assert.Equal(t, "NOT_RUNNING", resp.State)

	resp = service.ActionResponse{}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/streams/orders/stop", &resp))
	assert.False(t, resp.Changed, "second stop is a no-op")

	before, _ := f.manager.Pipeline("payments")

	resp = service.ActionResponse{}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/streams/orders/restart", &resp))
	assert.True(t, resp.Changed)
	assert.Equal(t, "RUNNING", resp.State)

	after, _ := f.manager.Pipeline("payments")
	assert.Same(t, before, after)

	resp = service.ActionResponse{}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/streams/orders/restart", &resp))
	assert.False(t, resp.Changed, "running streams are not restarted")

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/streams/refunds/restart", nil))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/streams/refunds/stop", nil))
}

func TestControl_StopAll(t *testing.T) {
	f := newFixture(t, nil)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/streams/stop", nil))
	for _, entity := range []string{"orders", "payments"} {
		state, ok := f.manager.State(entity)
		require.True(t, ok)
		assert.Equal(t, engine.NotRunning, state)
	}

	var h health.Status
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/health", &h))
	assert.True(t, h.IsUnhealthy())
}

func TestControl_Health(t *testing.T) {
	t.Run("streams running and broker connected", func(t *testing.T) {
		f := newFixture(t, fakeBroker{status: natsclient.StatusConnected})

		var h health.Status
		require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", &h))
		assert.True(t, h.IsHealthy())
		assert.Len(t, h.SubStatuses, 2)
	})

	t.Run("broker down", func(t *testing.T) {
		f := newFixture(t, fakeBroker{status: natsclient.StatusReconnecting})

		var h health.Status
		require.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/health", &h))
		assert.True(t, h.IsUnhealthy())
	})
}

func TestControl_MethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodDelete, "/streams/orders", nil))
}

func TestControl_RateLimitsLifecycleActions(t *testing.T) {
	f := newFixture(t, nil, service.WithRateLimit(rate.Limit(0), 1))

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/streams/orders/stop", nil))
	assert.Equal(t, http.StatusTooManyRequests, f.do(t, http.MethodPost, "/streams/orders/restart", nil))

	// reads are not limited
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/streams/orders", nil))
	state, _ := f.manager.State("orders")
	assert.Equal(t, engine.NotRunning, state)
}
