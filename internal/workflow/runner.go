// Package workflow runs the triage engine: it owns the single-instance
// lock, sweeps the raw intake directory into the processing tree, and
// drives units through their cycles with a bounded worker pool.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"docprep/internal/catalog"
	"docprep/internal/config"
	"docprep/internal/cycle"
	"docprep/internal/logging"
	"docprep/internal/manifest"
	"docprep/internal/metrics"
	"docprep/internal/router"
	"docprep/internal/services"
	"docprep/internal/triage"
	"docprep/internal/unitstate"
)

const defaultPollInterval = 5 * time.Second

// Runner coordinates intake and unit processing.
type Runner struct {
	cfg          *config.Config
	store        *catalog.Store
	collector    *metrics.Collector
	orchestrator *triage.Orchestrator
	router       *router.Router
	layout       *cycle.Layout
	logger       *slog.Logger
	pollInterval time.Duration

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures optional Runner behavior.
type Option func(*Runner)

// WithPollInterval overrides the idle sweep interval.
func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithOrchestrator injects a prebuilt orchestrator (used in tests).
func WithOrchestrator(o *triage.Orchestrator) Option {
	return func(r *Runner) {
		if o != nil {
			r.orchestrator = o
		}
	}
}

// New constructs a Runner. The catalog store may be nil.
func New(cfg *config.Config, store *catalog.Store, collector *metrics.Collector, logger *slog.Logger, opts ...Option) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("workflow requires configuration")
	}
	if collector == nil {
		collector = metrics.NewCollector()
	}
	orchestrator, err := triage.New(cfg, store, collector, logger)
	if err != nil {
		return nil, err
	}
	lockPath := cfg.LockPath()
	r := &Runner{
		cfg:          cfg,
		store:        store,
		collector:    collector,
		orchestrator: orchestrator,
		router:       router.New(cfg, logger),
		layout:       cycle.NewLayout(cfg),
		logger:       logging.NewComponentLogger(logger, "workflow"),
		pollInterval: defaultPollInterval,
		lockPath:     lockPath,
		lock:         flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Summary reports one processing sweep.
type Summary struct {
	Intaken    int
	Processed  int
	Ready      int
	Exceptions int
	Failures   int
}

// Start acquires the workspace lock and begins background sweeps. It
// returns once the loop is running; Stop waits for in-flight units.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("workflow already running")
	}
	if err := r.acquireLock(); err != nil {
		return err
	}
	if err := r.layout.EnsureLayout(); err != nil {
		r.releaseLock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.wg.Add(1)
	go r.loop(runCtx)

	r.logger.Info("workflow started",
		logging.String("lock", r.lockPath),
		logging.Int("workers", r.workerCount()))
	return nil
}

// Stop terminates background processing and waits for workers to drain.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
	r.releaseLock()
	r.logger.Info("workflow stopped")
}

// Close stops processing and releases held resources.
func (r *Runner) Close() error {
	r.Stop()
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}

// Running reports whether background sweeps are active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// RunOnce acquires the lock, drains the current intake plus any resumable
// pending units, and releases the lock. It is the engine behind a
// single-shot run from the command line.
func (r *Runner) RunOnce(ctx context.Context) (*Summary, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, errors.New("workflow already running")
	}
	if err := r.acquireLock(); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.mu.Unlock()
	defer r.releaseLock()

	if err := r.layout.EnsureLayout(); err != nil {
		return nil, err
	}
	return r.sweep(ctx)
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()
	for {
		summary, err := r.sweep(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("sweep failed", logging.Error(err))
		} else if summary != nil && summary.Processed > 0 {
			r.logger.Info("sweep complete",
				logging.Int("intaken", summary.Intaken),
				logging.Int("processed", summary.Processed),
				logging.Int("ready", summary.Ready),
				logging.Int("exceptions", summary.Exceptions),
				logging.Int("failures", summary.Failures))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.pollInterval):
		}
	}
}

// sweep intakes new raw units and processes everything resumable. Each
// sweep carries a correlation id so its log lines can be grouped.
func (r *Runner) sweep(ctx context.Context) (*Summary, error) {
	ctx = services.WithRequestID(ctx, uuid.NewString()[:8])
	summary := &Summary{}

	intaken, err := r.intake(ctx)
	if err != nil {
		return summary, err
	}
	summary.Intaken = len(intaken)

	units := append(intaken, r.resumable()...)
	if len(units) == 0 {
		return summary, nil
	}
	r.process(ctx, units, summary)
	return summary, ctx.Err()
}

// process fans the unit ids out over the worker pool and tallies results.
func (r *Runner) process(ctx context.Context, unitIDs []string, summary *Summary) {
	type outcome struct {
		state unitstate.State
		err   error
	}

	ids := make(chan string)
	results := make(chan outcome)

	var workers sync.WaitGroup
	for i := 0; i < r.workerCount(); i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for unitID := range ids {
				state, err := r.processUnit(ctx, unitID)
				select {
				case results <- outcome{state: state, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		defer close(ids)
		for _, unitID := range unitIDs {
			select {
			case ids <- unitID:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		workers.Wait()
		close(results)
	}()

	for res := range results {
		summary.Processed++
		switch {
		case res.err != nil:
			summary.Failures++
		case res.state == unitstate.StateReady:
			summary.Ready++
		case unitstate.IsTerminal(res.state):
			summary.Exceptions++
		}
	}
}

// processUnit drives one unit to a terminal state. A panic inside the
// pipeline is contained to the unit: it is logged and the unit is routed
// to exceptions instead of taking the worker down.
func (r *Runner) processUnit(ctx context.Context, unitID string) (state unitstate.State, err error) {
	log := logging.WithContext(ctx, r.logger)
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("unit %s panicked: %v", unitID, rec)
			log.Error("unit processing panicked",
				logging.String(logging.FieldUnitID, unitID),
				logging.Any("panic", rec))
			if diverted, ok := r.divertToExceptions(unitID); ok {
				state = diverted
				err = nil
			}
		}
	}()

	result, err := r.orchestrator.ProcessAllCycles(ctx, unitID)
	if err != nil {
		log.Error("unit processing failed",
			logging.String(logging.FieldUnitID, unitID),
			logging.Error(err))
		return "", err
	}
	return result.FinalState, nil
}

// divertToExceptions moves a misbehaving unit onto an exceptions shelf so
// the raw material survives for inspection.
func (r *Runner) divertToExceptions(unitID string) (unitstate.State, bool) {
	dir, _, err := r.router.Locate(unitID)
	if err != nil {
		return "", false
	}
	n := 1
	if m, loadErr := manifest.Load(dir); loadErr == nil && m.Processing.CurrentCycle > 0 {
		n = m.Processing.CurrentCycle
	}
	if _, err := r.router.RouteExceptions(dir, n, cycle.ExceptionsUnknown, "cannot_process"); err != nil {
		r.logger.Warn("could not divert panicked unit",
			logging.String(logging.FieldUnitID, unitID),
			logging.Error(err))
		return "", false
	}
	return unitstate.ExceptionsState(n), true
}

func (r *Runner) workerCount() int {
	if r.cfg.Workers.Count > 0 {
		return r.cfg.Workers.Count
	}
	return 1
}

func (r *Runner) acquireLock() error {
	ok, err := r.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire workspace lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another instance already holds %s", r.lockPath)
	}
	return nil
}

func (r *Runner) releaseLock() {
	if err := r.lock.Unlock(); err != nil {
		r.logger.Warn("failed to release workspace lock", logging.Error(err))
	}
}
