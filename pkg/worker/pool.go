package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xkayo32/pytake-sub013/metric"
)

// Pool errors.
var (
	ErrNilProcessor  = errors.New("worker: processor function cannot be nil")
	ErrNotStarted    = errors.New("worker: pool not started")
	ErrAlreadyExists = errors.New("worker: pool already started")
	ErrStopped       = errors.New("worker: pool stopped")
	ErrQueueFull     = errors.New("worker: queue full")
)

// Pool is a generic worker pool processing items of type T.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error

	workChan chan T
	wg       sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	queueDepth prometheus.Gauge
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetrics registers a queue-depth gauge for the pool under the given
// component name.
func WithMetrics[T any](reg *metric.Registry, component string) Option[T] {
	return func(p *Pool[T]) {
		gauge := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: component + "_worker_queue_depth",
			Help: "Items waiting in the worker pool queue.",
		})
		if err := reg.RegisterGauge(component, "worker_queue_depth", gauge); err == nil {
			p.queueDepth = gauge
		}
	}
}

// NewPool creates a pool of the given size. workers and queueSize fall back
// to 4 and 256 when non-positive. The processor must not be nil.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if processor == nil {
		panic(ErrNilProcessor)
	}
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers. It returns an error if the pool was already
// started or stopped.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrStopped
	}
	if p.started {
		return ErrAlreadyExists
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
	return nil
}

func (p *Pool[T]) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-p.workChan:
			if !ok {
				return
			}
			if p.queueDepth != nil {
				p.queueDepth.Set(float64(len(p.workChan)))
			}
			if err := p.processor(ctx, item); err != nil {
				p.failed.Add(1)
			} else {
				p.processed.Add(1)
			}
		}
	}
}

// Submit enqueues an item without blocking. A full queue drops the item and
// returns ErrQueueFull.
func (p *Pool[T]) Submit(item T) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	p.mu.Unlock()

	select {
	case p.workChan <- item:
		p.submitted.Add(1)
		if p.queueDepth != nil {
			p.queueDepth.Set(float64(len(p.workChan)))
		}
		return nil
	default:
		p.dropped.Add(1)
		return ErrQueueFull
	}
}

// Stop closes the queue and waits up to timeout for in-flight work to
// drain. It returns ErrNotStarted if the pool never started.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.workChan)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("worker: stop timed out with work in flight")
	}
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Submitted int64
	Processed int64
	Failed    int64
	Dropped   int64
	QueueLen  int
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
		QueueLen:  len(p.workChan),
	}
}
