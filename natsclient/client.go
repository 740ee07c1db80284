package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Aishwarya-Atre-1/ziggurat/errors"
	"github.com/Aishwarya-Atre-1/ziggurat/message"
	"github.com/Aishwarya-Atre-1/ziggurat/metric"
	"github.com/Aishwarya-Atre-1/ziggurat/pkg/timestamp"
)

// HeaderKey carries the record key on the wire
const HeaderKey = "Nats-Msg-Key"

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

const (
	pingInterval  = 30 * time.Second
	drainTimeout  = 30 * time.Second
	statsInterval = 30 * time.Second
)

// Error messages
var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
	ErrClientClosed = stderrors.New("client is closed")
)

// Status holds runtime status information for the client
type Status struct {
	Status          ConnectionStatus
	FailureCount    int32
	LastFailureTime time.Time
	RTT             time.Duration
}

// Client manages a NATS connection with a circuit breaker
type Client struct {
	url      string
	status   atomic.Value // ConnectionStatus
	failures atomic.Int32
	logger   *slog.Logger

	conn *nats.Conn
	js   jetstream.JetStream

	// Circuit breaker
	lastFailure      atomic.Value // time.Time
	backoff          atomic.Value // time.Duration
	circuitFailures  atomic.Int32
	circuitThreshold int32
	maxBackoff       time.Duration

	// Connection options
	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration

	// Authentication, cleared on close
	username string
	password string
	token    string

	clientName string

	// Metrics
	coreMetrics   *metric.Metrics
	jsMetrics     *jetstreamMetrics
	metricsCancel context.CancelFunc

	// Health monitoring
	healthInterval time.Duration
	healthDone     chan struct{}

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a new NATS client. url may list several servers
// separated by commas.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:              url,
		logger:           slog.Default(),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		healthInterval:   10 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		timeout:          5 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.logger = c.logger.With("component", "natsclient")
	c.status.Store(StatusDisconnected)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	c.logger.Debug("created NATS client", "url", url)
	return c, nil
}

// Status returns the current connection status
func (m *Client) Status() ConnectionStatus {
	val := m.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

func (m *Client) setStatus(status ConnectionStatus) {
	m.status.Store(status)
	if m.coreMetrics != nil {
		m.coreMetrics.RecordNATSStatus(status == StatusConnected)
	}
}

// IsHealthy returns true if the connection is healthy
func (m *Client) IsHealthy() bool {
	return m.Status() == StatusConnected
}

// Failures returns the current failure count
func (m *Client) Failures() int32 {
	return m.failures.Load()
}

// Backoff returns the current backoff duration
func (m *Client) Backoff() time.Duration {
	return m.backoff.Load().(time.Duration)
}

// recordFailure records a failure and opens the circuit after the threshold
func (m *Client) recordFailure() {
	total := m.failures.Add(1)
	m.lastFailure.Store(time.Now())
	round := m.circuitFailures.Add(1)

	m.logger.Debug("recorded failure", "failures", total, "circuit_failures", round)

	if round < m.circuitThreshold {
		return
	}

	current := m.Status()
	backoff := m.backoff.Load().(time.Duration)
	next := min(backoff*2, m.maxBackoff)

	if current != StatusCircuitOpen {
		if !m.status.CompareAndSwap(current, StatusCircuitOpen) {
			return
		}
		m.backoff.Store(next)
		m.circuitFailures.Store(0)
		m.logger.Warn("circuit breaker opened", "failures", round, "backoff", backoff)
		time.AfterFunc(backoff, m.testCircuit)
		return
	}

	m.backoff.Store(next)
	m.circuitFailures.Store(0)
	m.logger.Warn("circuit breaker still open", "backoff", next)
}

// resetCircuit resets the circuit breaker state
func (m *Client) resetCircuit() {
	m.failures.Store(0)
	m.circuitFailures.Store(0)
	m.backoff.Store(time.Second)
	m.lastFailure.Store(time.Time{})

	if m.Status() == StatusCircuitOpen {
		m.setStatus(StatusDisconnected)
	}
}

// testCircuit half-opens the circuit so the next Connect can try again
func (m *Client) testCircuit() {
	if m.Status() == StatusCircuitOpen {
		m.logger.Debug("circuit breaker half-open")
		m.setStatus(StatusDisconnected)
	}
}

// WaitForConnection waits for the connection to be established
func (m *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrConnectionTimeout, ctx.Err()),
				"Client", "WaitForConnection", "wait for connection")
		case <-ticker.C:
			if m.IsHealthy() {
				return nil
			}
		}
	}
}

// buildConnectionOptions builds NATS connection options from client configuration
func (m *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(m.maxReconnects),
		nats.ReconnectWait(m.reconnectWait),
		nats.PingInterval(pingInterval),
		nats.Timeout(m.timeout),
		nats.DrainTimeout(drainTimeout),
		nats.DisconnectErrHandler(m.handleDisconnect),
		nats.ReconnectHandler(m.handleReconnect),
		nats.ClosedHandler(m.handleClosed),
		nats.ErrorHandler(m.handleError),
	}

	if m.username != "" && m.password != "" {
		opts = append(opts, nats.UserInfo(m.username, m.password))
	}
	if m.token != "" {
		opts = append(opts, nats.Token(m.token))
	}
	if m.clientName != "" {
		opts = append(opts, nats.Name(m.clientName))
	}
	return opts
}

// GetStatus returns current status information
func (m *Client) GetStatus() *Status {
	status := &Status{
		Status:          m.Status(),
		FailureCount:    m.failures.Load(),
		LastFailureTime: m.lastFailure.Load().(time.Time),
	}
	if rtt, err := m.RTT(); err == nil {
		status.RTT = rtt
	}
	return status
}

// Connect establishes the connection to the NATS server
func (m *Client) Connect(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClientClosed
	}
	if m.Status() == StatusCircuitOpen {
		m.logger.Debug("circuit breaker is open, skipping connection attempt")
		return ErrCircuitOpen
	}

	m.setStatus(StatusConnecting)
	m.logger.Info("connecting to NATS", "url", m.url)

	opts := m.buildConnectionOptions()
	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(m.url, opts...)
		if err != nil {
			connectDone <- err
			return
		}
		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			connectDone <- err
			return
		}

		m.mu.Lock()
		m.conn = conn
		m.js = js
		m.mu.Unlock()
		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			return m.connectFailed(errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrNoConnection, err),
				"Client", "Connect", "establish connection"))
		}
	case <-ctx.Done():
		return m.connectFailed(errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled"))
	}

	m.setStatus(StatusConnected)
	m.resetCircuit()
	m.logger.Info("connected to NATS", "url", m.url)

	if m.healthInterval > 0 {
		m.startHealthMonitoring()
	}
	if m.jsMetrics != nil {
		m.metricsCancel = m.jsMetrics.startPoller(context.Background(), statsInterval)
	}
	return nil
}

func (m *Client) connectFailed(err error) error {
	m.recordFailure()
	if m.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}
	m.setStatus(StatusDisconnected)
	return err
}

// Close drains and closes the connection. It is safe to call more than once.
func (m *Client) Close(ctx context.Context) error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()

	if m.closed.Load() {
		return nil
	}
	m.closed.Store(true)

	m.stopHealthMonitoring()
	if m.metricsCancel != nil {
		m.metricsCancel()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var drainErr error
	if m.conn != nil {
		timeout := drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
				timeout = remaining
			}
		}

		drainDone := make(chan error, 1)
		conn := m.conn
		go func() {
			drainDone <- conn.Drain()
		}()

		select {
		case err := <-drainDone:
			if err != nil {
				drainErr = errors.Wrap(err, "Client", "Close", "drain connection")
			}
		case <-time.After(timeout):
			drainErr = errors.WrapTransient(fmt.Errorf("drain timeout after %v", timeout),
				"Client", "Close", "drain timeout")
		case <-ctx.Done():
			drainErr = errors.Wrap(ctx.Err(), "Client", "Close", "context cancelled during drain")
		}
		if drainErr != nil {
			m.logger.Error("drain failed, force closing", "error", drainErr)
		}

		m.conn.Close()
		m.conn = nil
		m.js = nil
	}

	m.username = ""
	m.password = ""
	m.token = ""

	m.setStatus(StatusDisconnected)
	return drainErr
}

// RTT returns the round-trip time to the NATS server
func (m *Client) RTT() (time.Duration, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return 0, ErrNotConnected
	}
	return conn.RTT()
}

// JetStream returns the JetStream context
func (m *Client) JetStream() (jetstream.JetStream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.js == nil {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "JetStream", "get JetStream context")
	}
	return m.js, nil
}

// ready checks the breaker and returns the JetStream context
func (m *Client) ready() (jetstream.JetStream, error) {
	switch m.Status() {
	case StatusCircuitOpen:
		return nil, ErrCircuitOpen
	case StatusConnected:
	default:
		return nil, ErrNotConnected
	}
	js, err := m.JetStream()
	if err != nil {
		m.recordFailure()
		return nil, err
	}
	return js, nil
}

// EnsureStream creates the stream if it does not exist, or updates its
// subjects and replicas when it does.
func (m *Client) EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	js, err := m.ready()
	if err != nil {
		return nil, err
	}

	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		m.recordFailure()
		m.jsMetrics.recordError("ensure_stream")
		return nil, errors.WrapTransient(err, "Client", "EnsureStream", "create or update stream "+cfg.Name)
	}

	m.resetCircuit()
	m.jsMetrics.trackStream(cfg.Name, stream)
	return stream, nil
}

// Publish sends a record to a JetStream subject. The key and the current
// time are attached as headers, alongside any extra headers.
func (m *Client) Publish(ctx context.Context, subject, key string, data []byte, headers message.Headers) error {
	js, err := m.ready()
	if err != nil {
		return err
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range headers {
		msg.Header.Set(k, v)
	}
	if key != "" {
		msg.Header.Set(HeaderKey, key)
	}
	if msg.Header.Get(message.IngestionTimestampHeader) == "" {
		msg.Header.Set(message.IngestionTimestampHeader, strconv.FormatInt(timestamp.Now(), 10))
	}

	if _, err := js.PublishMsg(ctx, msg); err != nil {
		m.recordFailure()
		m.jsMetrics.recordError("publish")
		return errors.WrapTransient(err, "Client", "Publish", "publish to "+subject)
	}

	m.resetCircuit()
	return nil
}

func (m *Client) handleDisconnect(_ *nats.Conn, err error) {
	m.setStatus(StatusReconnecting)
	if err != nil {
		m.logger.Warn("disconnected from NATS", "error", err)
	}
}

func (m *Client) handleReconnect(_ *nats.Conn) {
	m.setStatus(StatusConnected)
	m.resetCircuit()
	m.logger.Info("reconnected to NATS")
	if m.coreMetrics != nil {
		m.coreMetrics.NATSReconnects.Inc()
	}
}

func (m *Client) handleClosed(_ *nats.Conn) {
	m.setStatus(StatusDisconnected)
}

func (m *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	subject := ""
	if sub != nil {
		subject = sub.Subject
	}
	m.logger.Error("NATS error", "subject", subject, "error", err)
}

// startHealthMonitoring probes the connection with an RTT round trip and
// moves the status between connected and reconnecting.
func (m *Client) startHealthMonitoring() {
	m.stopHealthMonitoring()

	m.mu.Lock()
	done := make(chan struct{})
	m.healthDone = done
	interval := m.healthInterval
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.probe()
			}
		}
	}()
}

func (m *Client) probe() {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return
	}

	_, err := conn.RTT()
	healthy := err == nil && conn.IsConnected()
	switch current := m.Status(); {
	case healthy && current != StatusConnected:
		m.logger.Info("NATS connection healthy again")
		m.setStatus(StatusConnected)
	case !healthy && current == StatusConnected:
		m.logger.Warn("NATS health probe failed", "error", err)
		m.setStatus(StatusReconnecting)
	}
}

func (m *Client) stopHealthMonitoring() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.healthDone != nil {
		close(m.healthDone)
		m.healthDone = nil
	}
}

// isAlreadyExistsError reports whether a JetStream error means the resource exists
func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, jetstream.ErrStreamNameAlreadyInUse) || stderrors.Is(err, jetstream.ErrConsumerExists) {
		return true
	}
	return strings.Contains(err.Error(), "already in use") || strings.Contains(err.Error(), "already exists")
}
