// Package executor implements C7 BackupExecutor: fetch -> archive -> upload
// -> log -> prune, for both scheduled and ad-hoc runs.
package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/vaultkeep-io/vaultkeep/internal/apperr"
	"github.com/vaultkeep-io/vaultkeep/internal/db"
	"github.com/vaultkeep-io/vaultkeep/internal/metrics"
	"github.com/vaultkeep-io/vaultkeep/internal/mongoregistry"
	"github.com/vaultkeep-io/vaultkeep/internal/objectstore"
	"github.com/vaultkeep-io/vaultkeep/internal/repository"
	"github.com/vaultkeep-io/vaultkeep/internal/tenancy"
)

const pageSize = 1000

// Sink is the minimal view of C9 NotificationSink the executor depends on.
// Notification failures must never fail a backup, so the executor only
// ever logs what this returns.
type Sink interface {
	Notify(ctx context.Context, log db.BackupLog, schedule *db.BackupSchedule, org *db.Organization)
}

// Request describes a single execution, whether scheduled or ad-hoc.
// ScheduleID is nil for ad-hoc runs; CallerUserID and RetentionCount are
// always populated by the caller (Executor.ExecuteSchedule fills them in
// from the stored BackupSchedule for scheduled runs).
type Request struct {
	ScheduleID       *uuid.UUID
	OrganizationID   uuid.UUID
	ConnectionID     uuid.UUID
	DatabaseName     string
	Collections      []string
	RetentionCount   int
	CallerUserID     uuid.UUID
	SuppliedPassword string
}

// Executor runs backups end to end.
type Executor struct {
	schedules  repository.ScheduleRepository
	logs       repository.BackupLogRepository
	orgs       repository.OrganizationRepository
	registry   *mongoregistry.Registry
	store      objectstore.Store
	pred       *tenancy.Predicates
	sink       Sink
	maxExecDur time.Duration
	logger     *zap.Logger

	// runningMu/running implement the per-schedule lock of spec.md §5/§4.8:
	// at most one execution of a given scheduleId may be in flight at a
	// time, regardless of whether it was dispatched by SchedulerLoop's tick
	// or triggered ad hoc through the HTTP "/backup/execute" endpoint — both
	// paths converge on Execute, which is the only place that acquires it.
	runningMu sync.Mutex
	running   map[uuid.UUID]struct{}
}

// New constructs an Executor.
func New(
	schedules repository.ScheduleRepository,
	logs repository.BackupLogRepository,
	orgs repository.OrganizationRepository,
	registry *mongoregistry.Registry,
	store objectstore.Store,
	pred *tenancy.Predicates,
	sink Sink,
	maxExecDur time.Duration,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		schedules:  schedules,
		logs:       logs,
		orgs:       orgs,
		registry:   registry,
		store:      store,
		pred:       pred,
		sink:       sink,
		maxExecDur: maxExecDur,
		logger:     logger.Named("executor"),
		running:    make(map[uuid.UUID]struct{}),
	}
}

// IsScheduleRunning is a best-effort, non-committing peek at whether an
// execution of scheduleID currently holds the per-schedule lock. Callers
// that want to skip dispatching work entirely (SchedulerLoop's tick, to
// avoid spending a worker-pool slot) may consult it, but it is never the
// sole authority: Execute re-checks and acquires the lock itself, so a
// race against this peek can only cause a redundant Execute call that
// returns apperr.Conflict, never a double run.
func (e *Executor) IsScheduleRunning(scheduleID uuid.UUID) bool {
	e.runningMu.Lock()
	defer e.runningMu.Unlock()
	_, busy := e.running[scheduleID]
	return busy
}

// tryLockSchedule acquires the per-schedule lock for scheduleID, returning
// false if an execution of it is already in flight.
func (e *Executor) tryLockSchedule(scheduleID uuid.UUID) bool {
	e.runningMu.Lock()
	defer e.runningMu.Unlock()
	if _, busy := e.running[scheduleID]; busy {
		return false
	}
	e.running[scheduleID] = struct{}{}
	return true
}

func (e *Executor) unlockSchedule(scheduleID uuid.UUID) {
	e.runningMu.Lock()
	delete(e.running, scheduleID)
	e.runningMu.Unlock()
}

// ExecuteSchedule loads scheduleID and runs it on behalf of its creator.
// Used by both SchedulerLoop (automatic dispatch) and the ad-hoc
// "/backup/execute" endpoint (manual trigger of an existing schedule).
func (e *Executor) ExecuteSchedule(ctx context.Context, scheduleID uuid.UUID, suppliedPassword string) (*db.BackupLog, error) {
	schedule, err := e.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("executor: loading schedule: %w", err)
	}
	if !schedule.Enabled {
		return nil, fmt.Errorf("%w: schedule is disabled", apperr.ValidationError)
	}

	var collections []string
	if err := decodeJSONList(schedule.Collections, &collections); err != nil {
		return nil, fmt.Errorf("%w: schedule has malformed collections list", apperr.ValidationError)
	}

	req := Request{
		ScheduleID:       &schedule.ID,
		OrganizationID:   schedule.OrganizationID,
		ConnectionID:     schedule.ConnectionID,
		DatabaseName:     schedule.DatabaseName,
		Collections:      collections,
		RetentionCount:   schedule.RetentionCount,
		CallerUserID:     schedule.CreatedBy,
		SuppliedPassword: suppliedPassword,
	}
	return e.Execute(ctx, req)
}

// Execute runs a single backup end to end (spec.md §4.7). For a scheduled
// run (req.ScheduleID != nil) it first acquires that schedule's per-run
// lock — the sole mutual-exclusion point shared by SchedulerLoop's tick
// dispatch and the ad-hoc "/backup/execute" endpoint, since both funnel
// through here via ExecuteSchedule. Ad-hoc inline specs with no
// ScheduleID have nothing to serialize against and skip the lock.
func (e *Executor) Execute(ctx context.Context, req Request) (*db.BackupLog, error) {
	if req.ScheduleID != nil {
		if !e.tryLockSchedule(*req.ScheduleID) {
			return nil, fmt.Errorf("%w: a run of this schedule is already in progress", apperr.Conflict)
		}
		defer e.unlockSchedule(*req.ScheduleID)
	}

	execCtx, cancel := context.WithTimeout(ctx, e.maxExecDur)
	defer cancel()

	// --- 2. permission gate ---
	// A password-less request (SchedulerLoop's tick dispatch, or a
	// "/backup/execute" call whose body carries no password) falls back
	// to admin-only enforcement — see tenancy.Predicates.CanBackupAutomated.
	var ok bool
	var err error
	if req.SuppliedPassword != "" {
		ok, err = e.pred.CanBackup(execCtx, req.CallerUserID, req.OrganizationID, req.SuppliedPassword)
	} else {
		ok, err = e.pred.CanBackupAutomated(execCtx, req.CallerUserID, req.OrganizationID)
	}
	if err != nil {
		return nil, fmt.Errorf("executor: checking backup permission: %w", err)
	}
	if !ok {
		return nil, apperr.PermissionDenied
	}

	// --- 3. resolve connection ---
	conn, err := e.registry.GetConnection(execCtx, req.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("executor: loading connection: %w", err)
	}
	if conn.OrganizationID != req.OrganizationID {
		return nil, apperr.NotFound
	}
	client, err := e.registry.ClientFor(execCtx, conn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.Unreachable, err)
	}

	// --- 5. durable running log, before any side effect ---
	logRow := &db.BackupLog{
		ScheduleID:     req.ScheduleID,
		OrganizationID: req.OrganizationID,
		UserID:         req.CallerUserID,
		ConnectionName: conn.DisplayName,
		DatabaseName:   req.DatabaseName,
		Status:         "running",
		StartedAt:      time.Now(),
	}
	if err := e.logs.Create(execCtx, logRow); err != nil {
		return nil, fmt.Errorf("executor: creating log: %w", err)
	}

	e.run(execCtx, logRow, client, req)

	if req.ScheduleID != nil {
		e.enforceRetention(context.Background(), *req.ScheduleID, req.RetentionCount, req.CallerUserID)
	}
	e.notify(ctx, *logRow, req)

	return logRow, nil
}

// ExportRequest describes an ad-hoc, unlogged document fetch: the
// "/export" surface from SPEC_FULL.md's supplemented features, a thin
// wrapper around the same fetch path Execute uses for real backups, minus
// the archive/upload/BackupLog side effects.
type ExportRequest struct {
	OrganizationID   uuid.UUID
	ConnectionID     uuid.UUID
	DatabaseName     string
	Collection       string
	CallerUserID     uuid.UUID
	SuppliedPassword string
}

// Export fetches a single collection's documents under the same
// permission gate Execute uses, without writing a BackupLog row or
// touching the configured object store. It exists for ad-hoc exploration
// of a connection, not as a substitute for scheduled backups.
func (e *Executor) Export(ctx context.Context, req ExportRequest) ([]bson.M, error) {
	var allowed bool
	var err error
	if req.SuppliedPassword != "" {
		allowed, err = e.pred.CanBackup(ctx, req.CallerUserID, req.OrganizationID, req.SuppliedPassword)
	} else {
		allowed, err = e.pred.CanBackupAutomated(ctx, req.CallerUserID, req.OrganizationID)
	}
	if err != nil {
		return nil, fmt.Errorf("executor: checking backup permission: %w", err)
	}
	if !allowed {
		return nil, apperr.PermissionDenied
	}

	conn, err := e.registry.GetConnection(ctx, req.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("executor: loading connection: %w", err)
	}
	if conn.OrganizationID != req.OrganizationID {
		return nil, apperr.NotFound
	}
	client, err := e.registry.ClientFor(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.Unreachable, err)
	}

	docs, err := fetchCollection(ctx, client.Database(req.DatabaseName), req.Collection)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.Unreachable, err)
	}
	return docs, nil
}

// run performs steps 4-10 and finalizes logRow in place. It never returns
// an error: every failure mode is recorded on logRow itself.
func (e *Executor) run(ctx context.Context, logRow *db.BackupLog, client *mongo.Client, req Request) {
	started := time.Now()

	// --- 4. target collections ---
	collections := req.Collections
	if len(collections) == 0 {
		found, err := mongoregistry.NonSystemCollections(ctx, client, req.DatabaseName)
		if err != nil {
			e.fail(ctx, logRow, fmt.Sprintf("listing collections: %v", err))
			return
		}
		collections = found
	}
	sort.Strings(collections)

	// --- 6. fetch + 7. archive ---
	archive, backedUp, anySucceeded, err := buildArchive(ctx, client.Database(req.DatabaseName), collections, e.logger)
	if err != nil {
		e.fail(ctx, logRow, fmt.Sprintf("building archive: %v", err))
		return
	}
	if !anySucceeded {
		e.fail(ctx, logRow, "every collection failed to archive")
		return
	}

	// --- 8. destination path ---
	objectName := archiveObjectName(logRow.ConnectionName, req.DatabaseName, started)
	folderPath := archiveFolderPath(logRow.ConnectionName, req.DatabaseName)

	// --- 9. upload ---
	result, err := e.store.UploadFile(ctx, req.CallerUserID.String(), archive, objectName, "application/zip", folderPath)
	if err != nil {
		e.fail(ctx, logRow, fmt.Sprintf("uploading archive: %v", err))
		return
	}

	// --- 10. finalize success ---
	completedAt := time.Now()
	durationMs := completedAt.Sub(started).Milliseconds()
	collectedJSON, _ := encodeJSONList(backedUp)

	logRow.Status = "success"
	logRow.CompletedAt = &completedAt
	logRow.DurationMs = &durationMs
	logRow.CollectionsBackedUp = collectedJSON
	logRow.FileSizeBytes = int64(len(archive))
	logRow.FilePath = result.FileID
	logRow.FileLink = result.WebViewLink

	if err := e.logs.Update(ctx, logRow); err != nil {
		e.logger.Error("failed to persist successful backup log", zap.Error(err), zap.String("log_id", logRow.ID.String()))
	}
	metrics.Executions.WithLabelValues("success").Inc()
	metrics.ExecutionDuration.Observe(time.Duration(durationMs * int64(time.Millisecond)).Seconds())
	metrics.ArchiveBytes.Observe(float64(len(archive)))
}

func (e *Executor) fail(ctx context.Context, logRow *db.BackupLog, reason string) {
	completedAt := time.Now()
	durationMs := completedAt.Sub(logRow.StartedAt).Milliseconds()
	logRow.Status = "error"
	logRow.CompletedAt = &completedAt
	logRow.DurationMs = &durationMs
	if ctx.Err() != nil {
		logRow.Error = "cancelled"
	} else {
		logRow.Error = reason
	}
	if err := e.logs.Update(ctx, logRow); err != nil {
		e.logger.Error("failed to persist failed backup log", zap.Error(err), zap.String("log_id", logRow.ID.String()))
	}
	metrics.Executions.WithLabelValues("error").Inc()
	metrics.ExecutionDuration.Observe(time.Duration(durationMs * int64(time.Millisecond)).Seconds())
}

// enforceRetention implements step 11: keep only the RetentionCount most
// recent successful logs with an uploaded file, deleting the rest
// best-effort. Uses the background context so a caller-cancelled ad-hoc
// request does not abort cleanup of a run that already committed success.
func (e *Executor) enforceRetention(ctx context.Context, scheduleID uuid.UUID, retentionCount int, userID uuid.UUID) {
	if retentionCount < 1 {
		retentionCount = 1
	}
	logs, err := e.logs.ListSuccessfulByScheduleDesc(ctx, scheduleID)
	if err != nil {
		e.logger.Error("retention: listing successful logs failed", zap.Error(err))
		return
	}
	for i, l := range logs {
		if i < retentionCount {
			continue
		}
		if err := e.store.DeleteFile(ctx, userID.String(), l.FilePath); err != nil {
			e.logger.Warn("retention: object-store delete failed, log still marked deleted",
				zap.String("log_id", l.ID.String()), zap.Error(err))
		}
		now := time.Now()
		l.Status = "deleted"
		l.RetentionDeletedAt = &now
		l.DeletedReason = "Retention policy - exceeded retention count"
		if err := e.logs.Update(ctx, &l); err != nil {
			e.logger.Error("retention: persisting deleted log failed", zap.Error(err))
			continue
		}
		metrics.RetentionDeletions.Inc()
	}
}

func (e *Executor) notify(ctx context.Context, logRow db.BackupLog, req Request) {
	if e.sink == nil {
		return
	}
	org, err := e.orgs.GetByID(ctx, req.OrganizationID)
	if err != nil {
		e.logger.Warn("notification: loading organization failed", zap.Error(err))
		return
	}
	var schedule *db.BackupSchedule
	if req.ScheduleID != nil {
		schedule, _ = e.schedules.GetByID(ctx, *req.ScheduleID)
	}
	e.sink.Notify(ctx, logRow, schedule, org)
}

// RecoverOrphans transitions every "running" log older than grace to
// "error"/"orphaned" — run once at engine startup (spec.md §4.7 final
// paragraph) so the evaluator's overdue-recovery history check stays valid
// after an unclean shutdown.
func (e *Executor) RecoverOrphans(ctx context.Context, grace time.Duration) error {
	stale, err := e.logs.ListStaleRunning(ctx, time.Now().Add(-grace))
	if err != nil {
		return fmt.Errorf("executor: listing stale running logs: %w", err)
	}
	for _, l := range stale {
		completedAt := time.Now()
		durationMs := completedAt.Sub(l.StartedAt).Milliseconds()
		l.Status = "error"
		l.CompletedAt = &completedAt
		l.DurationMs = &durationMs
		l.Error = "orphaned"
		if err := e.logs.Update(ctx, &l); err != nil {
			e.logger.Error("orphan recovery: persisting log failed", zap.Error(err), zap.String("log_id", l.ID.String()))
			continue
		}
		e.logger.Warn("recovered orphaned running log", zap.String("log_id", l.ID.String()))
	}
	return nil
}

// cursorOpts returns the deterministic, paginated find options step 6
// requires: filter {}, sort {_id: 1}, batch size 1000.
func cursorOpts() *options.FindOptions {
	return options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetBatchSize(pageSize)
}
