package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vaultkeep-io/vaultkeep/internal/db"
)

type gormScheduleRepository struct {
	db *gorm.DB
}

// NewScheduleRepository returns a ScheduleRepository backed by the provided
// *gorm.DB.
func NewScheduleRepository(d *gorm.DB) ScheduleRepository {
	return &gormScheduleRepository{db: d}
}

func (r *gormScheduleRepository) Create(ctx context.Context, s *db.BackupSchedule) error {
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		return fmt.Errorf("backup_schedules: create: %w", err)
	}
	return nil
}

func (r *gormScheduleRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.BackupSchedule, error) {
	var s db.BackupSchedule
	err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("backup_schedules: get by id: %w", err)
	}
	return &s, nil
}

func (r *gormScheduleRepository) Update(ctx context.Context, s *db.BackupSchedule) error {
	result := r.db.WithContext(ctx).Save(s)
	if result.Error != nil {
		return fmt.Errorf("backup_schedules: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormScheduleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("schedule_id = ?", id).Delete(&db.BackupLog{}).Error; err != nil {
			return fmt.Errorf("backup_schedules: cascade delete logs: %w", err)
		}
		result := tx.Delete(&db.BackupSchedule{}, "id = ?", id)
		if result.Error != nil {
			return fmt.Errorf("backup_schedules: delete: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *gormScheduleRepository) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]db.BackupSchedule, error) {
	var schedules []db.BackupSchedule
	err := r.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("created_at ASC").
		Find(&schedules).Error
	if err != nil {
		return nil, fmt.Errorf("backup_schedules: list by organization: %w", err)
	}
	return schedules, nil
}

// ListEnabled returns every enabled schedule across all organizations. Used
// by the SchedulerLoop tick to feed the evaluator (spec.md §4.8 step 1).
func (r *gormScheduleRepository) ListEnabled(ctx context.Context) ([]db.BackupSchedule, error) {
	var schedules []db.BackupSchedule
	err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Find(&schedules).Error
	if err != nil {
		return nil, fmt.Errorf("backup_schedules: list enabled: %w", err)
	}
	return schedules, nil
}
