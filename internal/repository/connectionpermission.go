package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vaultkeep-io/vaultkeep/internal/db"
)

type gormConnectionPermissionRepository struct {
	db *gorm.DB
}

// NewConnectionPermissionRepository returns a ConnectionPermissionRepository
// backed by the provided *gorm.DB.
func NewConnectionPermissionRepository(d *gorm.DB) ConnectionPermissionRepository {
	return &gormConnectionPermissionRepository{db: d}
}

func (r *gormConnectionPermissionRepository) Grant(ctx context.Context, p *db.ConnectionPermission) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("connection_permissions: grant: %w", err)
	}
	return nil
}

func (r *gormConnectionPermissionRepository) Revoke(ctx context.Context, userID, connectionID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND connection_id = ?", userID, connectionID).
		Delete(&db.ConnectionPermission{})
	if result.Error != nil {
		return fmt.Errorf("connection_permissions: revoke: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormConnectionPermissionRepository) Exists(ctx context.Context, userID, connectionID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.ConnectionPermission{}).
		Where("user_id = ? AND connection_id = ?", userID, connectionID).
		Count(&count).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("connection_permissions: exists: %w", err)
	}
	return count > 0, nil
}

func (r *gormConnectionPermissionRepository) ListByConnection(ctx context.Context, connectionID uuid.UUID) ([]db.ConnectionPermission, error) {
	var perms []db.ConnectionPermission
	err := r.db.WithContext(ctx).
		Where("connection_id = ?", connectionID).
		Find(&perms).Error
	if err != nil {
		return nil, fmt.Errorf("connection_permissions: list by connection: %w", err)
	}
	return perms, nil
}
