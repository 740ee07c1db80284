package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"golang.org/x/time/rate"

	"github.com/Aishwarya-Atre-1/ziggurat/engine"
	"github.com/Aishwarya-Atre-1/ziggurat/errors"
	"github.com/Aishwarya-Atre-1/ziggurat/health"
	"github.com/Aishwarya-Atre-1/ziggurat/metric"
	"github.com/Aishwarya-Atre-1/ziggurat/natsclient"
)

// StreamController is the lifecycle surface the control API drives.
// streams.Manager implements it.
type StreamController interface {
	Entities() []string
	State(entity string) (engine.State, bool)
	Stop(entity string) bool
	StopAll() error
	Restart(ctx context.Context, entity string) (bool, error)
	Health() health.Status
}

// BrokerStatus reports the broker connection state
type BrokerStatus interface {
	GetStatus() *natsclient.Status
}

// StreamInfo describes one tracked pipeline
type StreamInfo struct {
	Entity   string             `json:"entity"`
	State    string             `json:"state"`
	Healthy  bool               `json:"healthy"`
	Health   *health.Status     `json:"health,omitempty"`
	Counters map[string]float64 `json:"counters,omitempty"`
}

// ActionResponse is returned by the stop and restart endpoints
type ActionResponse struct {
	Entity    string `json:"entity,omitempty"`
	Action    string `json:"action"`
	Changed   bool   `json:"changed"`
	State     string `json:"state,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ControlServer exposes stream lifecycle operations over HTTP
type ControlServer struct {
	port       int
	controller StreamController
	broker     BrokerStatus
	gatherer   prometheus.Gatherer
	limiter    *rate.Limiter
	logger     *slog.Logger

	mu     sync.Mutex
	server *http.Server
}

// ControlOption configures a ControlServer
type ControlOption func(*ControlServer)

// WithControlLogger sets the server logger
func WithControlLogger(logger *slog.Logger) ControlOption {
	return func(s *ControlServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBroker adds the broker connection to the health endpoint
func WithBroker(b BrokerStatus) ControlOption {
	return func(s *ControlServer) {
		s.broker = b
	}
}

// WithMetricsGatherer adds per-entity counters to stream details
func WithMetricsGatherer(registry *metric.MetricsRegistry) ControlOption {
	return func(s *ControlServer) {
		if registry != nil {
			s.gatherer = registry.PrometheusRegistry()
		}
	}
}

// WithRateLimit bounds how often lifecycle actions may be requested.
// Requests over the limit get 429.
func WithRateLimit(limit rate.Limit, burst int) ControlOption {
	return func(s *ControlServer) {
		s.limiter = rate.NewLimiter(limit, burst)
	}
}

// NewControlServer creates a control server on port. Zero means 8080.
func NewControlServer(port int, controller StreamController, opts ...ControlOption) *ControlServer {
	if port == 0 {
		port = 8080
	}
	s := &ControlServer{
		port:       port,
		controller: controller,
		limiter:    rate.NewLimiter(rate.Limit(20), 20),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "control")
	return s
}

// Handler returns the mux serving the control API
func (s *ControlServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /streams", s.handleList)
	mux.HandleFunc("POST /streams/stop", s.limited(s.handleStopAll))
	mux.HandleFunc("GET /streams/{entity}", s.handleGet)
	mux.HandleFunc("POST /streams/{entity}/stop", s.limited(s.handleStop))
	mux.HandleFunc("POST /streams/{entity}/restart", s.limited(s.handleRestart))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleLiveness)
	return mux
}

// Start serves until Stop is called. It blocks.
func (s *ControlServer) Start() error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(fmt.Errorf("server already running"),
			"ControlServer", "Start", "start control server")
	}
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("starting control server", "port", s.port)
	if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.WrapFatal(err, "ControlServer", "Start", fmt.Sprintf("listen on port %d", s.port))
	}
	return nil
}

// Stop shuts the server down gracefully
func (s *ControlServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	start := time.Now()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("control server shutdown failed", "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return errors.WrapTransient(err, "ControlServer", "Stop", "shutdown http server")
	}
	s.server = nil
	s.logger.Debug("control server stopped", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// limited rejects lifecycle requests over the rate limit
func (s *ControlServer) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.logger.Warn("lifecycle request rate limited", "path", r.URL.Path)
			s.writeError(w, http.StatusTooManyRequests, "too many lifecycle requests")
			return
		}
		next(w, r)
	}
}

// entityFromPath validates the {entity} path segment
func entityFromPath(r *http.Request) (string, bool) {
	name := r.PathValue("entity")
	if name == "" || name == "." || name == ".." {
		return "", false
	}
	decoded, err := url.PathUnescape(name)
	if err != nil {
		return "", false
	}
	if strings.ContainsAny(decoded, `/\`) {
		return "", false
	}
	return decoded, true
}

func (s *ControlServer) handleList(w http.ResponseWriter, _ *http.Request) {
	entities := s.controller.Entities()
	subs := s.entityHealth()

	streams := make([]StreamInfo, 0, len(entities))
	for _, entity := range entities {
		state, ok := s.controller.State(entity)
		if !ok {
			continue
		}
		info := StreamInfo{Entity: entity, State: state.String(), Healthy: state.IsRunning()}
		if st, ok := subs[entity]; ok {
			info.Healthy = st.IsHealthy()
		}
		streams = append(streams, info)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"streams": streams,
		"count":   len(streams),
	})
}

func (s *ControlServer) handleGet(w http.ResponseWriter, r *http.Request) {
	entity, ok := entityFromPath(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid entity name")
		return
	}
	state, ok := s.controller.State(entity)
	if !ok {
		s.writeError(w, http.StatusNotFound, errors.ErrUnknownEntity.Error())
		return
	}

	info := StreamInfo{Entity: entity, State: state.String(), Healthy: state.IsRunning()}
	if st, ok := s.entityHealth()[entity]; ok {
		info.Health = &st
		info.Healthy = st.IsHealthy()
	}
	info.Counters = s.entityCounters(entity)
	s.writeJSON(w, http.StatusOK, info)
}

func (s *ControlServer) handleStop(w http.ResponseWriter, r *http.Request) {
	entity, ok := entityFromPath(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid entity name")
		return
	}
	before, ok := s.controller.State(entity)
	if !ok || !s.controller.Stop(entity) {
		s.writeError(w, http.StatusNotFound, errors.ErrUnknownEntity.Error())
		return
	}

	after, _ := s.controller.State(entity)
	s.logger.Info("stream stopped via control api", "entity", entity, "state", after)
	s.writeJSON(w, http.StatusOK, ActionResponse{
		Entity:    entity,
		Action:    "stop",
		Changed:   before != engine.NotRunning,
		State:     after.String(),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *ControlServer) handleRestart(w http.ResponseWriter, r *http.Request) {
	entity, ok := entityFromPath(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid entity name")
		return
	}
	if _, ok := s.controller.State(entity); !ok {
		s.writeError(w, http.StatusNotFound, errors.ErrUnknownEntity.Error())
		return
	}

	restarted, err := s.controller.Restart(r.Context(), entity)
	if err != nil {
		s.logger.Error("restart via control api failed", "entity", entity, "error", err)
		status := http.StatusInternalServerError
		if errors.IsInvalid(err) {
			status = http.StatusConflict
		}
		s.writeError(w, status, err.Error())
		return
	}

	resp := ActionResponse{
		Entity:    entity,
		Action:    "restart",
		Changed:   restarted,
		Timestamp: time.Now().UnixMilli(),
	}
	if state, ok := s.controller.State(entity); ok {
		resp.State = state.String()
	}
	if !restarted {
		resp.Message = "stream is not stopped"
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *ControlServer) handleStopAll(w http.ResponseWriter, _ *http.Request) {
	if err := s.controller.StopAll(); err != nil {
		s.logger.Error("stop all via control api failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, ActionResponse{
		Action:    "stop_all",
		Changed:   true,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *ControlServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	subs := []health.Status{s.controller.Health()}

	if s.broker != nil {
		st := s.broker.GetStatus()
		if st.Status == natsclient.StatusConnected {
			subs = append(subs, health.NewHealthy("nats", fmt.Sprintf("Connected (RTT: %v)", st.RTT)))
		} else {
			subs = append(subs, health.NewUnhealthy("nats",
				fmt.Sprintf("Disconnected: %s (failures: %d)", st.Status.String(), st.FailureCount)))
		}
	}

	system := health.Aggregate("system", subs)
	status := http.StatusOK
	if system.IsUnhealthy() {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, system)
}

func (s *ControlServer) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// entityHealth indexes the per-entity statuses of the aggregate health
func (s *ControlServer) entityHealth() map[string]health.Status {
	agg := s.controller.Health()
	out := make(map[string]health.Status, len(agg.SubStatuses))
	for _, st := range agg.SubStatuses {
		out[st.Component] = st
	}
	return out
}

// entityCounters collects counter values labelled with entity's topic name,
// summed per metric family.
func (s *ControlServer) entityCounters(entity string) map[string]float64 {
	if s.gatherer == nil {
		return nil
	}
	families, err := s.gatherer.Gather()
	if err != nil {
		s.logger.Warn("gather metrics failed", "error", err)
		return nil
	}

	counters := make(map[string]float64)
	for _, family := range families {
		if family.GetType() != dto.MetricType_COUNTER {
			continue
		}
		for _, m := range family.GetMetric() {
			if !hasLabel(m, metric.LabelTopicName, entity) {
				continue
			}
			counters[family.GetName()] += m.GetCounter().GetValue()
		}
	}
	return counters
}

func hasLabel(m *dto.Metric, name, value string) bool {
	return slices.ContainsFunc(m.GetLabel(), func(l *dto.LabelPair) bool {
		return l.GetName() == name && l.GetValue() == value
	})
}

func (s *ControlServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *ControlServer) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
