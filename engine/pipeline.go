package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aishwarya-Atre-1/ziggurat/errors"
	"github.com/Aishwarya-Atre-1/ziggurat/pkg/worker"
	"github.com/Aishwarya-Atre-1/ziggurat/topology"
)

// UncaughtErrorHandler observes processing failures. goroutine names the
// stream thread that failed.
type UncaughtErrorHandler func(goroutine string, err error)

// StateListener is called after every state change
type StateListener func(from, to State)

type work struct {
	source string
	rec    Record
}

// Pipeline runs one topology
type Pipeline struct {
	name     string
	topo     *topology.Topology
	props    Properties
	factory  SourceFactory
	logger   *slog.Logger
	metrics  *Metrics
	wmetrics *worker.Metrics

	state     atomic.Int32
	uncaught  atomic.Pointer[UncaughtErrorHandler]
	listener  atomic.Pointer[StateListener]
	lifecycle sync.Mutex

	cancel context.CancelFunc
	subs   []Subscription
	pool   *worker.Pool[work]
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the pipeline logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics reports pipeline runtime metrics
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithWorkerMetrics reports stream thread metrics
func WithWorkerMetrics(m *worker.Metrics) Option {
	return func(p *Pipeline) {
		p.wmetrics = m
	}
}

// New creates a pipeline in the CREATED state
func New(topo *topology.Topology, props Properties, factory SourceFactory, opts ...Option) (*Pipeline, error) {
	if topo == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil topology"), "engine", "New", "create pipeline")
	}
	if factory == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil source factory"), "engine", "New", "create pipeline")
	}
	if err := props.Validate(); err != nil {
		return nil, err
	}

	props = props.withDefaults()
	p := &Pipeline{
		name:    props.ApplicationID,
		topo:    topo,
		props:   props,
		factory: factory,
		logger:  slog.Default().With("component", "pipeline", "pipeline", props.ApplicationID),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.state.Store(int32(Created))
	return p, nil
}

// Name returns the application id the pipeline was created with
func (p *Pipeline) Name() string {
	return p.name
}

// Topology returns the graph the pipeline runs
func (p *Pipeline) Topology() *topology.Topology {
	return p.topo
}

// Properties returns the effective properties
func (p *Pipeline) Properties() Properties {
	return p.props
}

// State returns the current run-state
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// SetUncaughtErrorHandler installs h. It must be set before Start to see
// every failure.
func (p *Pipeline) SetUncaughtErrorHandler(h UncaughtErrorHandler) {
	p.uncaught.Store(&h)
}

// SetStateListener installs l
func (p *Pipeline) SetStateListener(l StateListener) {
	p.listener.Store(&l)
}

func (p *Pipeline) transition(to State) bool {
	for {
		from := State(p.state.Load())
		if !validTransition(from, to) {
			return false
		}
		if p.state.CompareAndSwap(int32(from), int32(to)) {
			p.logger.Debug("pipeline state changed", "from", from, "to", to)
			p.metrics.recordTransition(p.name, to)
			if l := p.listener.Load(); l != nil && *l != nil {
				(*l)(from, to)
			}
			return true
		}
	}
}

// Start subscribes every source and begins processing
func (p *Pipeline) Start(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.State() != Created {
		return errors.WrapInvalid(fmt.Errorf("%w: state %s", errors.ErrAlreadyStarted, p.State()),
			"Pipeline", "Start", "start pipeline")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel

	opts := []worker.Option[work]{}
	if p.wmetrics != nil {
		opts = append(opts, worker.WithMetrics[work](p.wmetrics, p.name))
	}
	p.pool = worker.NewPool(p.props.StreamThreads, p.props.queueSize(), p.process, opts...)
	if err := p.pool.Start(runCtx); err != nil {
		cancel()
		return errors.WrapFatal(err, "Pipeline", "Start", "start stream threads")
	}

	// Sources may replay history from inside Subscribe, so records must
	// already be processable.
	p.transition(Running)

	for _, src := range p.topo.Sources() {
		spec := SourceSpec{Name: src.Name, Pattern: src.Pattern, Props: p.props}
		source := src.Name
		sub, err := p.factory.Subscribe(runCtx, spec,
			func(ctx context.Context, rec Record) error {
				return p.pool.Submit(ctx, rec.Message.Key, work{source: source, rec: rec})
			},
			func(err error) { p.fail(fmt.Sprintf("%s-source-%s", p.name, source), err) },
		)
		if err != nil {
			p.transition(Error)
			p.transition(PendingShutdown)
			p.stopResources(p.props.CloseTimeout)
			p.transition(NotRunning)
			return errors.WrapTransient(err, "Pipeline", "Start", fmt.Sprintf("subscribe source %s", source))
		}
		p.subs = append(p.subs, sub)
	}

	p.logger.Info("pipeline started", "sources", len(p.subs), "threads", p.props.StreamThreads)
	return nil
}

func (p *Pipeline) threadName(ctx context.Context) string {
	return fmt.Sprintf("%s-StreamThread-%d", p.name, worker.WorkerID(ctx)+1)
}

func (p *Pipeline) process(ctx context.Context, w work) (err error) {
	if p.State() != Running {
		// left unacknowledged for redelivery to the next consumer
		return nil
	}

	msg := w.rec.Message
	msg.Timestamp = p.props.TimestampExtractor(msg)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing record from %s: %v", w.source, r)
			p.logger.Error("stream thread panicked", "source", w.source, "panic", r, "stack", string(debug.Stack()))
			p.metrics.recordRecord(p.name, w.source, err)
			p.fail(p.threadName(ctx), err)
		}
	}()

	err = p.topo.Process(ctx, w.source, msg)
	p.metrics.recordRecord(p.name, w.source, err)
	if err != nil {
		p.report(p.threadName(ctx), err)
	}
	if w.rec.Ack != nil {
		if ackErr := w.rec.Ack(); ackErr != nil {
			p.logger.Warn("ack failed", "source", w.source, "error", ackErr)
		}
	}
	return err
}

func (p *Pipeline) report(goroutine string, err error) {
	if h := p.uncaught.Load(); h != nil && *h != nil {
		(*h)(goroutine, err)
		return
	}
	p.logger.Error("uncaught processing error", "thread", goroutine, "error", err)
}

// fail reports err and shuts the pipeline down to NOT_RUNNING
func (p *Pipeline) fail(goroutine string, err error) {
	p.report(goroutine, err)
	if !p.transition(Error) {
		return
	}
	go p.Close(p.props.CloseTimeout)
}

// Close stops the pipeline, waiting up to timeout for in-flight records.
// It returns false when shutdown did not finish in time; the pipeline then
// reaches NOT_RUNNING once the stream threads exit.
func (p *Pipeline) Close(timeout time.Duration) bool {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	switch p.State() {
	case NotRunning:
		return true
	case PendingShutdown:
		return false
	}

	start := time.Now()
	p.transition(PendingShutdown)
	done := p.stopResources(timeout)
	p.metrics.recordClose(p.name, time.Since(start))

	if !done {
		p.logger.Warn("pipeline did not close in time", "timeout", timeout)
		go func() {
			<-p.pool.Done()
			p.cancel()
			p.transition(NotRunning)
		}()
		return false
	}

	p.transition(NotRunning)
	p.logger.Info("pipeline closed", "duration", time.Since(start))
	return true
}

// stopResources stops subscriptions and stream threads. Caller holds lifecycle.
func (p *Pipeline) stopResources(timeout time.Duration) bool {
	for _, sub := range p.subs {
		sub.Stop()
	}
	p.subs = nil

	done := true
	if p.pool != nil {
		if err := p.pool.Stop(timeout); err != nil {
			done = false
		}
	}
	if done && p.cancel != nil {
		p.cancel()
	}
	return done
}
