package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vaultkeep-io/vaultkeep/internal/db"
)

type gormConnectionRepository struct {
	db *gorm.DB
}

// NewConnectionRepository returns a ConnectionRepository backed by the
// provided *gorm.DB.
func NewConnectionRepository(d *gorm.DB) ConnectionRepository {
	return &gormConnectionRepository{db: d}
}

func (r *gormConnectionRepository) Create(ctx context.Context, c *db.Connection) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("connections: create: %w", err)
	}
	return nil
}

func (r *gormConnectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.Connection, error) {
	var c db.Connection
	err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("connections: get by id: %w", err)
	}
	return &c, nil
}

func (r *gormConnectionRepository) Update(ctx context.Context, c *db.Connection) error {
	result := r.db.WithContext(ctx).Save(c)
	if result.Error != nil {
		return fmt.Errorf("connections: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete cascade-deletes the Connection's owned BackupSchedules, BackupLogs,
// and ConnectionPermissions, per spec.md §3.
func (r *gormConnectionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("connection_id = ?", id).Delete(&db.ConnectionPermission{}).Error; err != nil {
			return fmt.Errorf("connections: cascade delete permissions: %w", err)
		}
		var scheduleIDs []uuid.UUID
		if err := tx.Model(&db.BackupSchedule{}).Where("connection_id = ?", id).Pluck("id", &scheduleIDs).Error; err != nil {
			return fmt.Errorf("connections: load schedule ids: %w", err)
		}
		if len(scheduleIDs) > 0 {
			if err := tx.Where("schedule_id IN ?", scheduleIDs).Delete(&db.BackupLog{}).Error; err != nil {
				return fmt.Errorf("connections: cascade delete logs: %w", err)
			}
		}
		if err := tx.Where("connection_id = ?", id).Delete(&db.BackupSchedule{}).Error; err != nil {
			return fmt.Errorf("connections: cascade delete schedules: %w", err)
		}
		result := tx.Delete(&db.Connection{}, "id = ?", id)
		if result.Error != nil {
			return fmt.Errorf("connections: delete: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *gormConnectionRepository) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]db.Connection, error) {
	var conns []db.Connection
	err := r.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("created_at ASC").
		Find(&conns).Error
	if err != nil {
		return nil, fmt.Errorf("connections: list by organization: %w", err)
	}
	return conns, nil
}
