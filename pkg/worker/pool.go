// Package worker provides a partitioned worker pool.
//
// Work is routed to a worker by partition key so items sharing a key are
// processed in submission order, the way stream threads own partitions.
package worker

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

// Pool processes work items of type T on a fixed number of workers
type Pool[T any] struct {
	name      string
	workers   int
	queueSize int
	processor func(context.Context, T) error

	queues  []chan T
	quit    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	metrics *Metrics

	lifecycleMu sync.RWMutex
	started     bool
	stopped     bool
	quitOnce    sync.Once

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
}

// Option configures a Pool
type Option[T any] func(*Pool[T])

// WithMetrics reports pool activity under the given pool label
func WithMetrics[T any](m *Metrics, name string) Option[T] {
	return func(p *Pool[T]) {
		p.metrics = m
		p.name = name
	}
}

// NewPool creates a pool with workers goroutines, each with its own queue
// of queueSize items.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		queues:    make([]chan T, workers),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for i := range p.queues {
		p.queues[i] = make(chan T, queueSize)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers. They exit when ctx is done or Stop is called.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(context.WithValue(ctx, workerIDKey{}, i), p.queues[i])
	}
	go func() {
		p.wg.Wait()
		close(p.done)
	}()
	p.started = true
	return nil
}

// Done is closed once every worker has exited
func (p *Pool[T]) Done() <-chan struct{} {
	return p.done
}

type workerIDKey struct{}

// WorkerID returns the index of the worker running the processor, or -1
// outside a pool.
func WorkerID(ctx context.Context) int {
	id, ok := ctx.Value(workerIDKey{}).(int)
	if !ok {
		return -1
	}
	return id
}

// Submit enqueues work on the worker owning key. It blocks while that
// worker's queue is full, until ctx is done or the pool stops.
func (p *Pool[T]) Submit(ctx context.Context, key string, work T) error {
	p.lifecycleMu.RLock()
	defer p.lifecycleMu.RUnlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	queue := p.queues[p.partition(key)]
	select {
	case queue <- work:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.submitted.WithLabelValues(p.name).Inc()
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolStopped
	}
}

func (p *Pool[T]) partition(key string) int {
	if p.workers == 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(p.workers))
}

// Stop closes the queues and waits up to timeout for queued work to drain
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.quitOnce.Do(func() { close(p.quit) })

	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	for _, q := range p.queues {
		close(q)
	}
	p.lifecycleMu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	depth := 0
	for _, q := range p.queues {
		depth += len(q)
	}
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: depth,
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
}

func (p *Pool[T]) worker(ctx context.Context, queue <-chan T) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-queue:
			if !ok {
				return
			}

			start := time.Now()
			err := p.processor(ctx, work)

			p.processed.Add(1)
			status := "success"
			if err != nil {
				p.failed.Add(1)
				status = "error"
			}
			if p.metrics != nil {
				p.metrics.duration.WithLabelValues(p.name, status).Observe(time.Since(start).Seconds())
			}
		}
	}
}
