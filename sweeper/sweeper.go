package sweeper

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xkayo32/pytake-sub013/conversation"
	"github.com/xkayo32/pytake-sub013/errors"
	"github.com/xkayo32/pytake-sub013/metric"
	"github.com/xkayo32/pytake-sub013/pkg/worker"
)

// Defaults applied by New when the corresponding option is zero.
const (
	DefaultInterval    = time.Minute
	DefaultConcurrency = 4

	// DefaultGCGrace is how long terminal records linger past their
	// session TTL before deletion.
	DefaultGCGrace = 7 * 24 * time.Hour
)

// queue headroom per worker; a full queue defers keys to the next cycle.
const queuePerWorker = 64

// Options configures a Sweeper.
type Options struct {
	Store conversation.Store

	Logger  *slog.Logger
	Metrics *metric.Registry

	// Now is the sweeper's clock; tests pin it. Defaults to time.Now.
	Now func() time.Time

	Interval    time.Duration
	Concurrency int
	GCGrace     time.Duration
}

// Sweeper reconciles conversation records in the background.
type Sweeper struct {
	store   conversation.Store
	logger  *slog.Logger
	metrics *sweeperMetrics
	now     func() time.Time

	interval time.Duration
	gcGrace  time.Duration
	pool     *worker.Pool[conversation.Key]

	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// New constructs a Sweeper. Store is required.
func New(opts Options) (*Sweeper, error) {
	if opts.Store == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("store is required"), "sweeper", "New", "construct")
	}

	s := &Sweeper{
		store:    opts.Store,
		logger:   opts.Logger,
		now:      opts.Now,
		interval: opts.Interval,
		gcGrace:  opts.GCGrace,
		done:     make(chan struct{}),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.gcGrace <= 0 {
		s.gcGrace = DefaultGCGrace
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	process := func(ctx context.Context, key conversation.Key) error {
		err := s.sweep(ctx, key)
		if err != nil {
			s.logger.Warn("sweep failed, will retry next cycle", "key", key.String(), "error", err)
		}
		return err
	}
	var poolOpts []worker.Option[conversation.Key]
	if opts.Metrics != nil {
		poolOpts = append(poolOpts, worker.WithMetrics[conversation.Key](opts.Metrics, "sweeper"))
	}
	s.pool = worker.NewPool(concurrency, concurrency*queuePerWorker, process, poolOpts...)

	if opts.Metrics != nil {
		m, err := newSweeperMetrics(opts.Metrics)
		if err != nil {
			return nil, err
		}
		s.metrics = m
	}
	return s, nil
}

// Start launches the periodic scan. It returns immediately; Stop shuts the
// sweeper down.
func (s *Sweeper) Start(ctx context.Context) error {
	var err error
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		if err = s.pool.Start(ctx); err != nil {
			return
		}
		go s.run(ctx)
	})
	return err
}

// Stop halts the scan loop and drains in-flight sweeps.
func (s *Sweeper) Stop(timeout time.Duration) error {
	var err error
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
		err = s.pool.Stop(timeout)
	})
	return err
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Cycle(ctx)
		}
	}
}

// Cycle scans every conversation key once, fanning the per-key work out to
// the pool. Exposed so operators and tests can force a pass.
func (s *Sweeper) Cycle(ctx context.Context) {
	started := time.Now()

	keys, err := s.store.Keys(ctx)
	if err != nil {
		s.metrics.recordAction(actionError)
		s.logger.Error("sweep cycle: list keys", "error", err)
		return
	}

	for _, key := range keys {
		if err := s.pool.Submit(key); err != nil {
			if stderrors.Is(err, worker.ErrQueueFull) {
				// The rest of the keyspace waits for the next cycle.
				s.metrics.recordAction(actionDeferred)
				break
			}
			s.metrics.recordAction(actionError)
			s.logger.Error("sweep cycle: submit key", "key", key.String(), "error", err)
		}
	}

	s.metrics.observeCycle(time.Since(started).Seconds(), len(keys))
}

// sweep reconciles one record. Version conflicts mean a live event won the
// race; the record is left for the next cycle.
func (s *Sweeper) sweep(ctx context.Context, key conversation.Key) error {
	state, err := s.store.Load(ctx, key)
	if err != nil {
		if stderrors.Is(err, errors.ErrNotFound) {
			return nil
		}
		s.metrics.recordAction(actionError)
		return errors.WrapTransient(err, "sweeper", "sweep", "load state")
	}

	now := s.now()
	log := s.logger.With("tenant", state.TenantID, "contact", state.Contact, "flow", state.FlowID)

	if s.collectable(state, now) {
		if err := s.store.Delete(ctx, key); err != nil {
			s.metrics.recordAction(actionError)
			return errors.WrapTransient(err, "sweeper", "sweep", "delete state")
		}
		s.metrics.recordAction(actionDeleted)
		log.Info("terminal conversation collected", "run_state", state.RunState)
		return nil
	}

	changed := false
	if state.Active() && state.SessionExpired(now) {
		state.Expire()
		changed = true
		s.metrics.recordAction(actionExpired)
		log.Info("idle conversation expired")
	}
	if state.Window.Reconcile(now) {
		changed = true
		s.metrics.recordAction(actionWindowFlag)
	}
	if !changed {
		return nil
	}

	state.UpdatedAt = now
	if err := s.store.Save(ctx, state, state.Version); err != nil {
		if stderrors.Is(err, errors.ErrVersionConflict) {
			s.metrics.recordAction(actionConflict)
			log.Debug("sweep lost race to live event")
			return nil
		}
		s.metrics.recordAction(actionError)
		return errors.WrapTransient(err, "sweeper", "sweep", "save state")
	}
	return nil
}

// collectable reports whether a terminal record has outlived its TTL plus
// the grace period and can be deleted.
func (s *Sweeper) collectable(state *conversation.State, now time.Time) bool {
	if !state.Terminal() || state.SessionExpiresAt.IsZero() {
		return false
	}
	return now.After(state.SessionExpiresAt.Add(s.gcGrace))
}

// Sweep actions recorded in metrics.
const (
	actionWindowFlag = "window_flag"
	actionExpired    = "expired"
	actionDeleted    = "deleted"
	actionConflict   = "conflict"
	actionDeferred   = "deferred"
	actionError      = "error"
)

type sweeperMetrics struct {
	actions       *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	scannedKeys   prometheus.Gauge
}

func newSweeperMetrics(reg *metric.Registry) (*sweeperMetrics, error) {
	m := &sweeperMetrics{
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweeper_actions_total",
			Help: "Reconciliation actions taken, labeled by action.",
		}, []string{"action"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sweeper_cycle_duration_seconds",
			Help:    "Wall time per sweep cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		scannedKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sweeper_scanned_keys",
			Help: "Conversation keys seen by the latest cycle.",
		}),
	}

	if err := reg.RegisterCounterVec("sweeper", "actions_total", m.actions); err != nil {
		return nil, err
	}
	if err := reg.RegisterHistogram("sweeper", "cycle_duration_seconds", m.cycleDuration); err != nil {
		return nil, err
	}
	if err := reg.RegisterGauge("sweeper", "scanned_keys", m.scannedKeys); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *sweeperMetrics) recordAction(action string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(action).Inc()
}

func (m *sweeperMetrics) observeCycle(seconds float64, keys int) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(seconds)
	m.scannedKeys.Set(float64(keys))
}
