package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vaultkeep-io/vaultkeep/internal/db"
)

type gormBackupLogRepository struct {
	db *gorm.DB
}

// NewBackupLogRepository returns a BackupLogRepository backed by the
// provided *gorm.DB.
func NewBackupLogRepository(d *gorm.DB) BackupLogRepository {
	return &gormBackupLogRepository{db: d}
}

func (r *gormBackupLogRepository) Create(ctx context.Context, l *db.BackupLog) error {
	if err := r.db.WithContext(ctx).Create(l).Error; err != nil {
		return fmt.Errorf("backup_logs: create: %w", err)
	}
	return nil
}

func (r *gormBackupLogRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.BackupLog, error) {
	var l db.BackupLog
	err := r.db.WithContext(ctx).First(&l, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("backup_logs: get by id: %w", err)
	}
	return &l, nil
}

func (r *gormBackupLogRepository) Update(ctx context.Context, l *db.BackupLog) error {
	result := r.db.WithContext(ctx).Save(l)
	if result.Error != nil {
		return fmt.Errorf("backup_logs: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormBackupLogRepository) ListByOrganization(ctx context.Context, orgID uuid.UUID, opts ListOptions) ([]db.BackupLog, int64, error) {
	var logs []db.BackupLog
	var total int64

	base := r.db.WithContext(ctx).Model(&db.BackupLog{}).Where("organization_id = ?", orgID)
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("backup_logs: list count: %w", err)
	}

	query := r.db.WithContext(ctx).Where("organization_id = ?", orgID).Order("started_at DESC")
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}
	if err := query.Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("backup_logs: list: %w", err)
	}
	return logs, total, nil
}

// ListTerminalByScheduleSince returns every log for scheduleID with a
// terminal status (success or error) whose StartedAt is at or after since.
// This is the exact query the evaluator's overdue-suppression check needs
// (spec.md §4.6 step 3).
func (r *gormBackupLogRepository) ListTerminalByScheduleSince(ctx context.Context, scheduleID uuid.UUID, since time.Time) ([]db.BackupLog, error) {
	var logs []db.BackupLog
	err := r.db.WithContext(ctx).
		Where("schedule_id = ? AND status IN ? AND started_at >= ?", scheduleID, []string{"success", "error"}, since).
		Order("started_at DESC").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("backup_logs: list terminal by schedule since: %w", err)
	}
	return logs, nil
}

// ListSuccessfulByScheduleDesc returns every successful log with a file
// recorded, newest first — the input to the executor's retention pass
// (spec.md §4.7 step 11).
func (r *gormBackupLogRepository) ListSuccessfulByScheduleDesc(ctx context.Context, scheduleID uuid.UUID) ([]db.BackupLog, error) {
	var logs []db.BackupLog
	err := r.db.WithContext(ctx).
		Where("schedule_id = ? AND status = ? AND file_path <> ''", scheduleID, "success").
		Order("started_at DESC").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("backup_logs: list successful by schedule desc: %w", err)
	}
	return logs, nil
}

// MostRecentByScheduleIDs returns, for each given schedule, its single most
// recent log — used to populate the "lastRun" field schedule listings join
// in (spec.md §4.5).
func (r *gormBackupLogRepository) MostRecentByScheduleIDs(ctx context.Context, scheduleIDs []uuid.UUID) (map[uuid.UUID]db.BackupLog, error) {
	result := make(map[uuid.UUID]db.BackupLog, len(scheduleIDs))
	if len(scheduleIDs) == 0 {
		return result, nil
	}

	var logs []db.BackupLog
	err := r.db.WithContext(ctx).
		Where("schedule_id IN ?", scheduleIDs).
		Order("started_at DESC").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("backup_logs: most recent by schedule ids: %w", err)
	}

	for _, l := range logs {
		if l.ScheduleID == nil {
			continue
		}
		if _, seen := result[*l.ScheduleID]; !seen {
			result[*l.ScheduleID] = l
		}
	}
	return result, nil
}

// ListStaleRunning returns every log still in "running" whose StartedAt
// predates olderThan — crash-recovery candidates (spec.md §4.7 final
// paragraph).
func (r *gormBackupLogRepository) ListStaleRunning(ctx context.Context, olderThan time.Time) ([]db.BackupLog, error) {
	var logs []db.BackupLog
	err := r.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", "running", olderThan).
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("backup_logs: list stale running: %w", err)
	}
	return logs, nil
}
