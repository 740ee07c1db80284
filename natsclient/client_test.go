package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aishwarya-Atre-1/ziggurat/errors"
	"github.com/Aishwarya-Atre-1/ziggurat/metric"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.url)
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestNewClient_InvalidOption(t *testing.T) {
	_, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(0))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewClient("nats://localhost:4222", WithMaxBackoff(-time.Second))
	require.Error(t, err)
}

func TestConnectionStatus_String(t *testing.T) {
	cases := map[ConnectionStatus]string{
		StatusDisconnected:   "disconnected",
		StatusConnecting:     "connecting",
		StatusConnected:      "connected",
		StatusReconnecting:   "reconnecting",
		StatusCircuitOpen:    "circuit_open",
		ConnectionStatus(42): "unknown",
	}
	for status, want := range cases {
		assert.Equal(t, want, status.String())
	}
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	client, err := NewClient("nats://invalid:4222")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		client.recordFailure()
	}
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(5), client.Failures())
	assert.Equal(t, 2*time.Second, client.Backoff())
}

func TestCircuitBreaker_BackoffCapped(t *testing.T) {
	client, err := NewClient("nats://invalid:4222",
		WithCircuitBreakerThreshold(1),
		WithMaxBackoff(3*time.Second),
	)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, 3*time.Second, client.Backoff())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	require.Equal(t, StatusCircuitOpen, client.Status())

	client.resetCircuit()
	assert.Equal(t, int32(0), client.Failures())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestConnect_CircuitOpenFailsFast(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(1))
	require.NoError(t, err)
	client.recordFailure()

	err = client.Connect(context.Background())
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestConnect_Unreachable(t *testing.T) {
	client, err := NewClient("nats://127.0.0.1:1",
		WithTimeout(200*time.Millisecond),
		WithMaxReconnects(0),
		WithHealthInterval(0),
	)
	require.NoError(t, err)

	err = client.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.ErrorIs(t, err, errors.ErrNoConnection)
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, int32(1), client.Failures())
}

func TestOperationsRequireConnection(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	err = client.Publish(context.Background(), "orders", "k", []byte("v"), nil)
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.JetStream()
	assert.Error(t, err)

	_, err = client.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClose_Idempotent(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithCredentials("user", "secret"), WithToken("tok"))
	require.NoError(t, err)

	require.NoError(t, client.Close(context.Background()))
	require.NoError(t, client.Close(context.Background()))
	assert.Empty(t, client.password)
	assert.Empty(t, client.token)

	err = client.Connect(context.Background())
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestWaitForConnection_Timeout(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err = client.WaitForConnection(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConnectionTimeout)
}

func TestWithMetrics_RecordsStatus(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	client, err := NewClient("nats://localhost:4222", WithMetrics(registry))
	require.NoError(t, err)

	client.setStatus(StatusConnected)
	assert.Equal(t, float64(1), testutil.ToFloat64(registry.CoreMetrics().NATSConnected))

	client.handleReconnect(nil)
	assert.Equal(t, float64(1), testutil.ToFloat64(registry.CoreMetrics().NATSReconnects))

	client.setStatus(StatusReconnecting)
	assert.Equal(t, float64(0), testutil.ToFloat64(registry.CoreMetrics().NATSConnected))

	// a second client on the same registry collides on the JetStream gauges
	_, err = NewClient("nats://localhost:4222", WithMetrics(registry))
	assert.Error(t, err)
}
