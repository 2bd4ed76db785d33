package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vaultkeep-io/vaultkeep/internal/db"
)

type gormOrganizationRepository struct {
	db *gorm.DB
}

// NewOrganizationRepository returns an OrganizationRepository backed by the
// provided *gorm.DB.
func NewOrganizationRepository(d *gorm.DB) OrganizationRepository {
	return &gormOrganizationRepository{db: d}
}

func (r *gormOrganizationRepository) Create(ctx context.Context, org *db.Organization) error {
	if err := r.db.WithContext(ctx).Create(org).Error; err != nil {
		return fmt.Errorf("organizations: create: %w", err)
	}
	return nil
}

func (r *gormOrganizationRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.Organization, error) {
	var org db.Organization
	err := r.db.WithContext(ctx).First(&org, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("organizations: get by id: %w", err)
	}
	return &org, nil
}

func (r *gormOrganizationRepository) Update(ctx context.Context, org *db.Organization) error {
	result := r.db.WithContext(ctx).Save(org)
	if result.Error != nil {
		return fmt.Errorf("organizations: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the Organization along with every row it owns — Memberships,
// Connections, BackupSchedules, BackupLogs, ConnectionPermissions, and
// Invitations — per spec.md §3's cascade-delete invariant. GORM cannot
// resolve foreign keys with uuid.UUID primary keys (same limitation the
// teacher notes on Policy/Job), so the cascade is explicit rather than
// declared via association tags.
func (r *gormOrganizationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cascades := []struct {
			model interface{}
			col   string
		}{
			{&db.BackupLog{}, "organization_id"},
			{&db.BackupSchedule{}, "organization_id"},
			{&db.ConnectionPermission{}, "organization_id"},
			{&db.Connection{}, "organization_id"},
			{&db.Invitation{}, "organization_id"},
			{&db.Membership{}, "organization_id"},
		}
		for _, c := range cascades {
			if err := tx.Where(c.col+" = ?", id).Delete(c.model).Error; err != nil {
				return fmt.Errorf("organizations: cascade delete %T: %w", c.model, err)
			}
		}
		result := tx.Delete(&db.Organization{}, "id = ?", id)
		if result.Error != nil {
			return fmt.Errorf("organizations: delete: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *gormOrganizationRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]db.Organization, error) {
	var orgs []db.Organization
	err := r.db.WithContext(ctx).
		Joins("JOIN memberships ON memberships.organization_id = organizations.id").
		Where("memberships.user_id = ?", userID).
		Order("organizations.created_at ASC").
		Find(&orgs).Error
	if err != nil {
		return nil, fmt.Errorf("organizations: list for user: %w", err)
	}
	return orgs, nil
}
