package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vaultkeep-io/vaultkeep/internal/db"
)

type gormOAuthTokenRepository struct {
	db *gorm.DB
}

// NewOAuthTokenRepository returns an OAuthTokenRepository backed by the
// provided *gorm.DB.
func NewOAuthTokenRepository(d *gorm.DB) OAuthTokenRepository {
	return &gormOAuthTokenRepository{db: d}
}

// Upsert inserts or replaces the token row for (UserID, Provider), since a
// user reconnecting the same provider should overwrite the previous grant
// rather than accumulate rows.
func (r *gormOAuthTokenRepository) Upsert(ctx context.Context, t *db.OAuthToken) error {
	var existing db.OAuthToken
	err := r.db.WithContext(ctx).
		First(&existing, "user_id = ? AND provider = ?", t.UserID, t.Provider).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
			return fmt.Errorf("oauth_tokens: create: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("oauth_tokens: upsert lookup: %w", err)
	default:
		t.ID = existing.ID
		result := r.db.WithContext(ctx).Save(t)
		if result.Error != nil {
			return fmt.Errorf("oauth_tokens: upsert save: %w", result.Error)
		}
		return nil
	}
}

func (r *gormOAuthTokenRepository) Get(ctx context.Context, userID uuid.UUID, provider string) (*db.OAuthToken, error) {
	var t db.OAuthToken
	err := r.db.WithContext(ctx).
		First(&t, "user_id = ? AND provider = ?", userID, provider).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("oauth_tokens: get: %w", err)
	}
	return &t, nil
}

func (r *gormOAuthTokenRepository) Delete(ctx context.Context, userID uuid.UUID, provider string) error {
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		Delete(&db.OAuthToken{})
	if result.Error != nil {
		return fmt.Errorf("oauth_tokens: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
