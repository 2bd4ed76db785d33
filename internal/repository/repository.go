// Package repository is the GORM-backed persistence layer for every entity
// in the application database. Each entity gets one interface plus one
// gorm-backed implementation, following the teacher's
// internal/repository + internal/repositories split — unified here into a
// single package since both retrieved variants implemented the same shape
// against the same *gorm.DB.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vaultkeep-io/vaultkeep/internal/db"
)

// ListOptions carries common pagination for list queries.
type ListOptions struct {
	Limit  int
	Offset int
}

// UserRepository persists User rows.
type UserRepository interface {
	Create(ctx context.Context, user *db.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.User, error)
	GetByEmail(ctx context.Context, email string) (*db.User, error)
	GetByUsername(ctx context.Context, username string) (*db.User, error)
	Update(ctx context.Context, user *db.User) error
}

// SessionRepository persists Session rows.
type SessionRepository interface {
	Create(ctx context.Context, session *db.Session) error
	GetByToken(ctx context.Context, token string) (*db.Session, error)
	DeleteByToken(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context, now time.Time) error
}

// EmailVerificationRepository persists EmailVerification rows.
type EmailVerificationRepository interface {
	Create(ctx context.Context, v *db.EmailVerification) error
	GetByToken(ctx context.Context, token string) (*db.EmailVerification, error)
	DeleteByUserID(ctx context.Context, userID uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// OrganizationRepository persists Organization rows.
type OrganizationRepository interface {
	Create(ctx context.Context, org *db.Organization) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Organization, error)
	Update(ctx context.Context, org *db.Organization) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListForUser(ctx context.Context, userID uuid.UUID) ([]db.Organization, error)
}

// MembershipRepository persists Membership rows.
type MembershipRepository interface {
	Create(ctx context.Context, m *db.Membership) error
	Get(ctx context.Context, orgID, userID uuid.UUID) (*db.Membership, error)
	Update(ctx context.Context, m *db.Membership) error
	Delete(ctx context.Context, orgID, userID uuid.UUID) error
	ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]db.Membership, error)
}

// InvitationRepository persists Invitation rows.
type InvitationRepository interface {
	Create(ctx context.Context, inv *db.Invitation) error
	GetByToken(ctx context.Context, token string) (*db.Invitation, error)
	Update(ctx context.Context, inv *db.Invitation) error
	ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]db.Invitation, error)
}

// ConnectionRepository persists Connection rows.
type ConnectionRepository interface {
	Create(ctx context.Context, c *db.Connection) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Connection, error)
	Update(ctx context.Context, c *db.Connection) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]db.Connection, error)
}

// ConnectionPermissionRepository persists ConnectionPermission rows.
type ConnectionPermissionRepository interface {
	Grant(ctx context.Context, p *db.ConnectionPermission) error
	Revoke(ctx context.Context, userID, connectionID uuid.UUID) error
	Exists(ctx context.Context, userID, connectionID uuid.UUID) (bool, error)
	ListByConnection(ctx context.Context, connectionID uuid.UUID) ([]db.ConnectionPermission, error)
}

// ScheduleRepository persists BackupSchedule rows.
type ScheduleRepository interface {
	Create(ctx context.Context, s *db.BackupSchedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.BackupSchedule, error)
	Update(ctx context.Context, s *db.BackupSchedule) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]db.BackupSchedule, error)
	ListEnabled(ctx context.Context) ([]db.BackupSchedule, error)
}

// BackupLogRepository persists BackupLog rows.
type BackupLogRepository interface {
	Create(ctx context.Context, l *db.BackupLog) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.BackupLog, error)
	Update(ctx context.Context, l *db.BackupLog) error
	ListByOrganization(ctx context.Context, orgID uuid.UUID, opts ListOptions) ([]db.BackupLog, int64, error)
	ListTerminalByScheduleSince(ctx context.Context, scheduleID uuid.UUID, since time.Time) ([]db.BackupLog, error)
	ListSuccessfulByScheduleDesc(ctx context.Context, scheduleID uuid.UUID) ([]db.BackupLog, error)
	MostRecentByScheduleIDs(ctx context.Context, scheduleIDs []uuid.UUID) (map[uuid.UUID]db.BackupLog, error)
	ListStaleRunning(ctx context.Context, olderThan time.Time) ([]db.BackupLog, error)
}

// OAuthTokenRepository persists OAuthToken rows.
type OAuthTokenRepository interface {
	Upsert(ctx context.Context, t *db.OAuthToken) error
	Get(ctx context.Context, userID uuid.UUID, provider string) (*db.OAuthToken, error)
	Delete(ctx context.Context, userID uuid.UUID, provider string) error
}
