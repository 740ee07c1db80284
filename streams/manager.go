package streams

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aishwarya-Atre-1/ziggurat/config"
	"github.com/Aishwarya-Atre-1/ziggurat/engine"
	"github.com/Aishwarya-Atre-1/ziggurat/errors"
	"github.com/Aishwarya-Atre-1/ziggurat/health"
	"github.com/Aishwarya-Atre-1/ziggurat/message"
	"github.com/Aishwarya-Atre-1/ziggurat/metric"
	"github.com/Aishwarya-Atre-1/ziggurat/pkg/worker"
	"github.com/Aishwarya-Atre-1/ziggurat/tracing"
)

const tracerShutdownTimeout = 5 * time.Second

// Route is the handler of one entity and the channel ids it may dispatch to
type Route struct {
	Handler  message.HandlerFunc
	Channels []string
}

// Routes maps entity names to their routes
type Routes map[string]Route

// Registry maps entity names to their pipelines. A Registry returned by
// the Manager is a snapshot and is never modified.
type Registry map[string]*engine.Pipeline

// Manager owns the running pipelines. Lifecycle operations are serialised;
// readers see the registry as of the last completed operation.
type Manager struct {
	supervisor *Supervisor
	logger     *slog.Logger
	tracer     *tracing.Tracer
	ownsTracer bool
	registry   *metric.MetricsRegistry

	mu       sync.Mutex
	routes   Routes
	current  atomic.Pointer[Registry]
	shutdown bool
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the manager logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetricsRegistry reports stream, pipeline and stream thread metrics
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(m *Manager) {
		m.registry = registry
	}
}

// WithTracer sets the tracer consumer spans are started on. The caller
// keeps ownership of it.
func WithTracer(tracer *tracing.Tracer) Option {
	return func(m *Manager) {
		m.tracer = tracer
	}
}

// NewManager creates a manager reading entity settings from cfg and
// opening sources through factory.
func NewManager(cfg *config.Config, factory engine.SourceFactory, opts ...Option) (*Manager, error) {
	if cfg == nil || factory == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: config and source factory are required", errors.ErrMissingConfig),
			"Manager", "NewManager", "create manager")
	}

	m := &Manager{logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "streams")

	if m.tracer == nil {
		m.tracer = tracing.New(cfg.AppName, tracing.WithLogger(m.logger))
		m.ownsTracer = true
	}

	m.supervisor = &Supervisor{
		cfg:     cfg,
		factory: factory,
		logger:  m.logger,
		tracer:  m.tracer,
		health:  health.NewMonitor(),
	}
	if m.registry != nil {
		engineMetrics, err := engine.NewMetrics(m.registry)
		if err != nil {
			return nil, err
		}
		workerMetrics, err := worker.NewMetrics(m.registry)
		if err != nil {
			return nil, err
		}
		m.supervisor.metrics = m.registry.CoreMetrics()
		m.supervisor.engineMetrics = engineMetrics
		m.supervisor.workerMetrics = workerMetrics
	}

	empty := Registry{}
	m.current.Store(&empty)
	return m, nil
}

// Registry returns the current registry snapshot
func (m *Manager) Registry() Registry {
	return *m.current.Load()
}

// Entities returns the tracked entity names, sorted
func (m *Manager) Entities() []string {
	return slices.Sorted(maps.Keys(m.Registry()))
}

// Pipeline returns the pipeline tracked for entity
func (m *Manager) Pipeline(entity string) (*engine.Pipeline, bool) {
	p, ok := m.Registry()[entity]
	return p, ok
}

// State returns the run-state of entity's pipeline
func (m *Manager) State(entity string) (engine.State, bool) {
	p, ok := m.Pipeline(entity)
	if !ok {
		return engine.NotRunning, false
	}
	return p.State(), true
}

// Health returns the per-entity health of the tracked pipelines
func (m *Manager) Health() health.Status {
	return m.supervisor.health.AggregateHealth("streams")
}

// StartAll starts a pipeline for every route. Entities whose topology is
// suppressed are left out of the registry. A failing entity is logged and
// skipped; its error is returned joined with the others alongside the
// registry of the pipelines that did start.
func (m *Manager) StartAll(ctx context.Context, routes Routes) (Registry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		return nil, errors.WrapInvalid(errors.ErrShuttingDown, "Manager", "StartAll", "start pipelines")
	}
	if len(m.Registry()) > 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: pipelines are already tracked", errors.ErrAlreadyStarted),
			"Manager", "StartAll", "start pipelines")
	}

	m.routes = maps.Clone(routes)
	next := make(Registry, len(routes))
	var errs []error

	for _, entity := range slices.Sorted(maps.Keys(routes)) {
		p, err := m.supervisor.Start(ctx, entity, routes[entity])
		if err != nil {
			m.logger.Error("failed to start pipeline", "entity", entity, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", entity, err))
			continue
		}
		if p == nil {
			continue
		}
		next[entity] = p
	}

	m.current.Store(&next)
	m.logger.Info("pipelines started", "started", len(next), "routes", len(routes))
	return next, errors.Join(errs...)
}

// Stop closes entity's pipeline. It reports false when the entity is not
// tracked. Stopping a pipeline that is not running is a no-op.
func (m *Manager) Stop(entity string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.Registry()[entity]
	if !ok {
		m.logger.Warn("no such stream to stop", "entity", entity)
		return false
	}
	_ = m.stopPipeline(entity, p)
	return true
}

// stopPipeline closes p unless it has already stopped. Caller holds mu.
func (m *Manager) stopPipeline(entity string, p *engine.Pipeline) error {
	if p.State() == engine.NotRunning {
		m.logger.Info("stream is already stopped", "entity", entity)
		return nil
	}
	if !p.Close(p.Properties().CloseTimeout) {
		m.logger.Warn("stream could not be stopped in time", "entity", entity, "state", p.State())
		return fmt.Errorf("%s: %w", entity, errors.ErrCloseTimeout)
	}
	m.logger.Info("stopped stream", "entity", entity)
	return nil
}

// StopAll stops every tracked pipeline in parallel
func (m *Manager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopAll()
}

func (m *Manager) stopAll() error {
	var g errgroup.Group
	for entity, p := range m.Registry() {
		g.Go(func() error {
			return m.stopPipeline(entity, p)
		})
	}
	return g.Wait()
}

// Restart rebuilds entity's pipeline from the routes given to StartAll if,
// and only if, it is NOT_RUNNING. Every other entity keeps its pipeline.
// It reports whether a new pipeline was started.
func (m *Manager) Restart(ctx context.Context, entity string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		return false, errors.WrapInvalid(errors.ErrShuttingDown, "Manager", "Restart", "restart pipeline")
	}

	current := m.Registry()
	p, ok := current[entity]
	if !ok {
		m.logger.Warn("no such stream to restart", "entity", entity)
		return false, nil
	}
	if state := p.State(); state != engine.NotRunning {
		m.logger.Info("stream is not stopped, skipping restart", "entity", entity, "state", state)
		return false, nil
	}

	fresh, err := m.supervisor.Start(ctx, entity, m.routes[entity])
	if err != nil {
		m.logger.Error("failed to restart stream", "entity", entity, "error", err)
		return false, err
	}

	next := maps.Clone(current)
	if fresh == nil {
		delete(next, entity)
	} else {
		next[entity] = fresh
	}
	m.current.Store(&next)

	m.logger.Info("restarted stream", "entity", entity)
	return fresh != nil, nil
}

// Shutdown stops every pipeline and refuses further starts
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		return nil
	}
	m.shutdown = true

	err := m.stopAll()
	if m.ownsTracer {
		ctx, cancel := context.WithTimeout(context.Background(), tracerShutdownTimeout)
		if terr := m.tracer.Shutdown(ctx); terr != nil {
			m.logger.Warn("tracer shutdown failed", "error", terr)
		}
		cancel()
	}
	m.logger.Info("stream manager shut down", "pipelines", len(m.Registry()))
	return err
}
