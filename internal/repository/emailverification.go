package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vaultkeep-io/vaultkeep/internal/db"
)

type gormEmailVerificationRepository struct {
	db *gorm.DB
}

// NewEmailVerificationRepository returns an EmailVerificationRepository
// backed by the provided *gorm.DB.
func NewEmailVerificationRepository(d *gorm.DB) EmailVerificationRepository {
	return &gormEmailVerificationRepository{db: d}
}

func (r *gormEmailVerificationRepository) Create(ctx context.Context, v *db.EmailVerification) error {
	if err := r.db.WithContext(ctx).Create(v).Error; err != nil {
		return fmt.Errorf("email_verifications: create: %w", err)
	}
	return nil
}

func (r *gormEmailVerificationRepository) GetByToken(ctx context.Context, token string) (*db.EmailVerification, error) {
	var v db.EmailVerification
	err := r.db.WithContext(ctx).First(&v, "token = ?", token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("email_verifications: get by token: %w", err)
	}
	return &v, nil
}

func (r *gormEmailVerificationRepository) DeleteByUserID(ctx context.Context, userID uuid.UUID) error {
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&db.EmailVerification{}).Error; err != nil {
		return fmt.Errorf("email_verifications: delete by user id: %w", err)
	}
	return nil
}

func (r *gormEmailVerificationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.db.WithContext(ctx).Delete(&db.EmailVerification{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("email_verifications: delete: %w", err)
	}
	return nil
}
