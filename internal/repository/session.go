package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/vaultkeep-io/vaultkeep/internal/db"
)

type gormSessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository returns a SessionRepository backed by the provided *gorm.DB.
func NewSessionRepository(d *gorm.DB) SessionRepository {
	return &gormSessionRepository{db: d}
}

func (r *gormSessionRepository) Create(ctx context.Context, session *db.Session) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("sessions: create: %w", err)
	}
	return nil
}

func (r *gormSessionRepository) GetByToken(ctx context.Context, token string) (*db.Session, error) {
	var session db.Session
	err := r.db.WithContext(ctx).First(&session, "token = ?", token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sessions: get by token: %w", err)
	}
	return &session, nil
}

func (r *gormSessionRepository) DeleteByToken(ctx context.Context, token string) error {
	if err := r.db.WithContext(ctx).Where("token = ?", token).Delete(&db.Session{}).Error; err != nil {
		return fmt.Errorf("sessions: delete by token: %w", err)
	}
	return nil
}

// DeleteExpired permanently removes sessions whose ExpiresAt is in the past.
// Intended to be called periodically, mirroring the teacher's
// RefreshTokenRepository.DeleteExpired cleanup pattern.
func (r *gormSessionRepository) DeleteExpired(ctx context.Context, now time.Time) error {
	if err := r.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&db.Session{}).Error; err != nil {
		return fmt.Errorf("sessions: delete expired: %w", err)
	}
	return nil
}
