// Package scheduler implements C8 SchedulerLoop: a single long-running
// driver that ticks the evaluator and dispatches due executions with
// bounded concurrency. Per-schedule mutual exclusion (spec.md §5's "no two
// runs of the same schedule overlap") is enforced by internal/executor,
// not here, since the ad-hoc "/backup/execute" endpoint must honor it too.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/vaultkeep-io/vaultkeep/internal/apperr"
	"github.com/vaultkeep-io/vaultkeep/internal/evaluator"
	"github.com/vaultkeep-io/vaultkeep/internal/executor"
	"github.com/vaultkeep-io/vaultkeep/internal/metrics"
	"github.com/vaultkeep-io/vaultkeep/internal/repository"
)

// Loop drives SchedulerLoop. The zero value is not usable — use New.
type Loop struct {
	cron     gocron.Scheduler
	schedules repository.ScheduleRepository
	eval     *evaluator.Evaluator
	exec     *executor.Executor
	sem      *semaphore.Weighted

	tickInterval  time.Duration
	shutdownGrace time.Duration

	// mu guards sem's reservation bookkeeping and inFlight, which tracks
	// cancellation for this loop's own dispatches during graceful shutdown.
	// It is not a mutual-exclusion lock — that lives in Executor.
	mu       sync.Mutex
	inFlight map[uuid.UUID]context.CancelFunc
	wg       sync.WaitGroup

	baseCtx    context.Context
	cancelBase context.CancelFunc

	logger *zap.Logger
}

// New creates a Loop. Call Start to begin ticking.
func New(
	schedules repository.ScheduleRepository,
	eval *evaluator.Evaluator,
	exec *executor.Executor,
	tickInterval time.Duration,
	workerPoolSize int64,
	shutdownGrace time.Duration,
	logger *zap.Logger,
) (*Loop, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: creating gocron scheduler: %w", err)
	}
	return &Loop{
		cron:          cron,
		schedules:     schedules,
		eval:          eval,
		exec:          exec,
		sem:           semaphore.NewWeighted(workerPoolSize),
		tickInterval:  tickInterval,
		shutdownGrace: shutdownGrace,
		inFlight:      make(map[uuid.UUID]context.CancelFunc),
		logger:        logger.Named("scheduler"),
	}, nil
}

// Start runs crash recovery, registers the single tick job, and starts the
// underlying gocron scheduler. Call Stop for graceful shutdown.
func (l *Loop) Start(ctx context.Context, orphanedRunningGrace time.Duration) error {
	if err := l.exec.RecoverOrphans(ctx, orphanedRunningGrace); err != nil {
		l.logger.Error("orphan recovery failed at startup", zap.Error(err))
	}

	l.baseCtx, l.cancelBase = context.WithCancel(context.Background())

	_, err := l.cron.NewJob(
		gocron.DurationJob(l.tickInterval),
		gocron.NewTask(l.tick),
	)
	if err != nil {
		return fmt.Errorf("scheduler: registering tick job: %w", err)
	}

	l.cron.Start()
	l.logger.Info("scheduler started", zap.Duration("tick_interval", l.tickInterval))
	return nil
}

// Stop cancels every in-flight execution, stops accepting new dispatches,
// and waits up to shutdownGrace for in-flight work to finalize before
// forcing termination (spec.md §4.8).
func (l *Loop) Stop() error {
	if err := l.cron.Shutdown(); err != nil {
		l.logger.Error("gocron shutdown error", zap.Error(err))
	}

	l.mu.Lock()
	for _, cancel := range l.inFlight {
		cancel()
	}
	l.mu.Unlock()
	if l.cancelBase != nil {
		l.cancelBase()
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(l.shutdownGrace):
		l.logger.Warn("shutdown grace period elapsed with executions still in flight")
	}

	l.logger.Info("scheduler stopped")
	return nil
}

// tick is invoked on every tickInterval. It never returns an error — gocron
// has nothing meaningful to do with one, and every per-schedule failure is
// already captured in that schedule's BackupLog by the executor.
func (l *Loop) tick() {
	metrics.SchedulerTicks.Inc()
	now := time.Now()
	enabled, err := l.schedules.ListEnabled(l.baseCtx)
	if err != nil {
		l.logger.Error("tick: listing enabled schedules failed", zap.Error(err))
		return
	}

	due := l.eval.DueNow(l.baseCtx, now, enabled)
	for _, scheduleID := range due {
		l.dispatch(scheduleID)
	}
}

// dispatch attempts to reserve a worker-pool slot for scheduleID and hand
// it to the executor. The authoritative per-schedule mutual-exclusion lock
// lives in Executor itself (shared with the ad-hoc "/backup/execute"
// endpoint, spec.md §5/§4.8's "no two runs of the same schedule overlap");
// IsScheduleRunning here is only a best-effort peek to avoid spending a
// worker-pool slot on a schedule we can already see is busy — Execute's
// own lock is what actually prevents a double run if this peek races with
// a concurrent ad-hoc trigger. If the worker pool is saturated, dispatch
// skips it silently; the next tick will try again.
func (l *Loop) dispatch(scheduleID uuid.UUID) {
	if l.exec.IsScheduleRunning(scheduleID) {
		metrics.DueSkipped.Inc()
		return
	}

	l.mu.Lock()
	if !l.sem.TryAcquire(1) {
		l.mu.Unlock()
		l.logger.Warn("worker pool saturated, skipping dispatch this tick",
			zap.String("schedule_id", scheduleID.String()))
		metrics.DueSkipped.Inc()
		return
	}
	execCtx, cancel := context.WithCancel(l.baseCtx)
	l.inFlight[scheduleID] = cancel
	l.mu.Unlock()
	metrics.DueDispatched.Inc()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.sem.Release(1)
		defer cancel()
		defer func() {
			l.mu.Lock()
			delete(l.inFlight, scheduleID)
			l.mu.Unlock()
		}()

		if _, err := l.exec.ExecuteSchedule(execCtx, scheduleID, ""); err != nil {
			if errors.Is(err, apperr.Conflict) {
				// Lost the race against a concurrent ad-hoc execute of the
				// same schedule; not an error, just a skipped tick.
				l.logger.Debug("execution skipped: schedule already running",
					zap.String("schedule_id", scheduleID.String()))
				metrics.DueSkipped.Inc()
				return
			}
			l.logger.Error("scheduled execution failed",
				zap.String("schedule_id", scheduleID.String()), zap.Error(err))
		}
	}()
}
