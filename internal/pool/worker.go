package pool

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dreamware/canic/internal/ids"
)

// DefaultBatchSize is the default reset-worker batch size B (spec §4.3: "B=10 by default").
const DefaultBatchSize = 10

// DefaultMinimumSizeBurst bounds how many creations the minimum-size
// loop spawns in one pass (spec §4.3: "up to min(deficit, 10)").
const DefaultMinimumSizeBurst = 10

// ResetFunc performs the uninstall+controllers-reset+balance-read
// sequence for a single pool entry (spec §4.3), returning the measured
// cycles balance on success.
type ResetFunc func(ctx context.Context, pid ids.PID) (cycles uint64, err error)

// Worker drains PendingReset entries in batches. Only one worker
// instance runs at a time; a schedule request that arrives while a
// batch is in flight sets a reschedule flag instead of starting a
// second run concurrently (spec §4.3) — grounded on the teacher's
// ticker-plus-callback shape in internal/coordinator/health_monitor.go,
// with singleflight substituted for the ad hoc running-flag a
// cooperative-scheduling original would not have needed.
type Worker struct {
	pool       *Pool
	reset      ResetFunc
	batchSize  int
	log        *zap.SugaredLogger
	sf         singleflight.Group
	mu         sync.Mutex
	rescheduleRequested bool
}

// NewWorker constructs a Worker with the spec's default batch size.
func NewWorker(p *Pool, reset ResetFunc, log *zap.SugaredLogger) *Worker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Worker{pool: p, reset: reset, batchSize: DefaultBatchSize, log: log}
}

// Schedule requests a worker run. If a run is already in flight, this
// sets the reschedule flag and waits for that run to finish instead of
// starting a second one; the in-flight run starts another pass before
// it finishes.
func (w *Worker) Schedule(ctx context.Context) {
	w.mu.Lock()
	w.rescheduleRequested = true
	w.mu.Unlock()

	w.sf.Do("reset-batch", func() (any, error) {
		w.runUntilDrainedOrIdle(ctx)
		return nil, nil
	})
}

// runUntilDrainedOrIdle processes batches, consuming the reschedule
// flag each pass, until a pass finds no reschedule request pending and
// no PendingReset entry left (spec §4.3: "If pending work remains after
// a batch, reschedule immediately").
func (w *Worker) runUntilDrainedOrIdle(ctx context.Context) {
	for {
		w.mu.Lock()
		w.rescheduleRequested = false
		w.mu.Unlock()

		w.runBatch(ctx)

		w.mu.Lock()
		again := w.rescheduleRequested
		w.mu.Unlock()

		w.pool.mu.Lock()
		pending := w.pool.pendingCountLocked()
		w.pool.mu.Unlock()

		if !again && pending == 0 {
			return
		}
	}
}

// runBatch resets up to batchSize PendingReset entries, oldest-created
// first.
func (w *Worker) runBatch(ctx context.Context) {
	w.pool.mu.Lock()
	batch := w.pool.oldestPendingLocked(w.batchSize)
	w.pool.mu.Unlock()

	for _, pid := range batch {
		cycles, err := w.reset(ctx, pid)
		if err != nil {
			w.log.Warnw("pool reset failed", "pid", pid.String(), "error", err)
			w.pool.markFailed(pid, err.Error())
			continue
		}
		w.pool.markReady(pid, cycles)
	}
}

// MinimumSizeLoop periodically tops the pool back up to
// config.pool.minimum_size, spawning up to DefaultMinimumSizeBurst
// creations per pass (spec §4.3). It runs on a robfig/cron schedule
// rather than a bare ticker so operators can tune the cadence with a
// cron expression instead of a Duration literal.
type MinimumSizeLoop struct {
	pool        *Pool
	minSize     int
	create      NodeCreator
	now         func() uint64
	log         *zap.SugaredLogger
	cronEntries *cron.Cron
}

// NewMinimumSizeLoop constructs a MinimumSizeLoop targeting minSize
// Ready entries, using create to provision replacements and now to
// stamp their created_at. The cadence is set later by Start's cron
// expression.
func NewMinimumSizeLoop(p *Pool, minSize int, create NodeCreator, now func() uint64, log *zap.SugaredLogger) *MinimumSizeLoop {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &MinimumSizeLoop{pool: p, minSize: minSize, create: create, now: now, log: log, cronEntries: cron.New()}
}

// Start registers the periodic tick and begins running it in the
// background. schedule is a standard 5-field cron expression.
func (l *MinimumSizeLoop) Start(schedule string) error {
	_, err := l.cronEntries.AddFunc(schedule, l.tick)
	if err != nil {
		return err
	}
	l.cronEntries.Start()
	return nil
}

// Stop halts the loop and waits for any in-flight tick to finish.
func (l *MinimumSizeLoop) Stop() {
	ctx := l.cronEntries.Stop()
	<-ctx.Done()
}

// tick runs one pass of the minimum-size check (spec §4.3). Individual
// creation failures are logged, not fatal — a partial top-up is still
// progress toward minSize.
func (l *MinimumSizeLoop) tick() {
	deficit := l.minSize - l.pool.ReadyCount()
	if deficit <= 0 {
		return
	}
	burst := deficit
	if burst > DefaultMinimumSizeBurst {
		burst = DefaultMinimumSizeBurst
	}
	for i := 0; i < burst; i++ {
		pid, role, hash, err := l.create()
		if err != nil {
			l.log.Warnw("minimum-size loop: creation failed", "error", err)
			continue
		}
		l.pool.RegisterDirect(pid, role, hash, l.now())
	}
}

// Tick exposes tick for tests that want a deterministic single pass
// instead of waiting on cron's schedule.
func (l *MinimumSizeLoop) Tick() {
	l.tick()
}
