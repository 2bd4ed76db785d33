package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vaultkeep-io/vaultkeep/internal/db"
)

type gormMembershipRepository struct {
	db *gorm.DB
}

// NewMembershipRepository returns a MembershipRepository backed by the
// provided *gorm.DB.
func NewMembershipRepository(d *gorm.DB) MembershipRepository {
	return &gormMembershipRepository{db: d}
}

func (r *gormMembershipRepository) Create(ctx context.Context, m *db.Membership) error {
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("memberships: create: %w", err)
	}
	return nil
}

func (r *gormMembershipRepository) Get(ctx context.Context, orgID, userID uuid.UUID) (*db.Membership, error) {
	var m db.Membership
	err := r.db.WithContext(ctx).
		First(&m, "organization_id = ? AND user_id = ?", orgID, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("memberships: get: %w", err)
	}
	return &m, nil
}

func (r *gormMembershipRepository) Update(ctx context.Context, m *db.Membership) error {
	result := r.db.WithContext(ctx).
		Model(&db.Membership{}).
		Where("organization_id = ? AND user_id = ?", m.OrganizationID, m.UserID).
		Update("role", m.Role)
	if result.Error != nil {
		return fmt.Errorf("memberships: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormMembershipRepository) Delete(ctx context.Context, orgID, userID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("organization_id = ? AND user_id = ?", orgID, userID).
		Delete(&db.Membership{})
	if result.Error != nil {
		return fmt.Errorf("memberships: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormMembershipRepository) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]db.Membership, error) {
	var members []db.Membership
	err := r.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("joined_at ASC").
		Find(&members).Error
	if err != nil {
		return nil, fmt.Errorf("memberships: list by organization: %w", err)
	}
	return members, nil
}
