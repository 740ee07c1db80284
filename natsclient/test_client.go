package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testImage          = "nats:2.11.7-alpine"
	testConnectTimeout = 5 * time.Second
	testStartTimeout   = 30 * time.Second
)

// TestClient is a connected Client backed by a JetStream-enabled NATS
// container.
type TestClient struct {
	Client *Client
	URL    string

	container testcontainers.Container
}

// TestOption configures a test client
type TestOption func(*[]jetstream.StreamConfig)

// WithStream pre-creates an in-memory stream over subjects
func WithStream(name string, subjects ...string) TestOption {
	return func(streams *[]jetstream.StreamConfig) {
		*streams = append(*streams, jetstream.StreamConfig{
			Name:     name,
			Subjects: subjects,
			Storage:  jetstream.MemoryStorage,
		})
	}
}

// NewTestClient starts a NATS container and returns a connected client.
// Everything is torn down by t.Cleanup. Skipped under -short.
func NewTestClient(t testing.TB, opts ...TestOption) *TestClient {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping NATS container test in short mode")
	}

	var streams []jetstream.StreamConfig
	for _, opt := range opts {
		opt(&streams)
	}

	tc, err := startTestClient(context.Background(), streams)
	if err != nil {
		t.Fatalf("start NATS test client: %v", err)
	}
	t.Cleanup(tc.terminate)
	return tc
}

func startTestClient(ctx context.Context, streams []jetstream.StreamConfig) (tc *TestClient, err error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        testImage,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          []string{"--port", "4222", "--http_port", "8222", "--js"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp"),
				wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(testStartTimeout),
			),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	tc = &TestClient{container: container}
	defer func() {
		if err != nil {
			tc.terminate()
		}
	}()

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		return nil, fmt.Errorf("mapped port: %w", err)
	}
	tc.URL = fmt.Sprintf("nats://%s:%s", host, port.Port())

	tc.Client, err = NewClient(tc.URL,
		WithTimeout(testConnectTimeout),
		WithMaxReconnects(0),
		WithHealthInterval(0),
	)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, testConnectTimeout)
	defer cancel()
	if err := tc.Client.Connect(connectCtx); err != nil {
		return nil, err
	}
	for _, sc := range streams {
		if _, err := tc.Client.EnsureStream(connectCtx, sc); err != nil {
			return nil, fmt.Errorf("create stream %s: %w", sc.Name, err)
		}
	}
	return tc, nil
}

func (tc *TestClient) terminate() {
	if tc.Client != nil {
		_ = tc.Client.Close(context.Background())
	}
	if tc.container != nil {
		_ = tc.container.Terminate(context.Background())
		tc.container = nil
	}
}
