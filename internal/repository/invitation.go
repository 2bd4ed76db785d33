package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vaultkeep-io/vaultkeep/internal/db"
)

type gormInvitationRepository struct {
	db *gorm.DB
}

// NewInvitationRepository returns an InvitationRepository backed by the
// provided *gorm.DB.
func NewInvitationRepository(d *gorm.DB) InvitationRepository {
	return &gormInvitationRepository{db: d}
}

func (r *gormInvitationRepository) Create(ctx context.Context, inv *db.Invitation) error {
	if err := r.db.WithContext(ctx).Create(inv).Error; err != nil {
		return fmt.Errorf("invitations: create: %w", err)
	}
	return nil
}

func (r *gormInvitationRepository) GetByToken(ctx context.Context, token string) (*db.Invitation, error) {
	var inv db.Invitation
	err := r.db.WithContext(ctx).First(&inv, "token = ?", token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("invitations: get by token: %w", err)
	}
	return &inv, nil
}

func (r *gormInvitationRepository) Update(ctx context.Context, inv *db.Invitation) error {
	result := r.db.WithContext(ctx).Save(inv)
	if result.Error != nil {
		return fmt.Errorf("invitations: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormInvitationRepository) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]db.Invitation, error) {
	var invites []db.Invitation
	err := r.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("created_at DESC").
		Find(&invites).Error
	if err != nil {
		return nil, fmt.Errorf("invitations: list by organization: %w", err)
	}
	return invites, nil
}
