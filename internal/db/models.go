package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vaultkeep-io/vaultkeep/internal/vault"
)

// base contains the common fields shared by all models.
// ID uses UUID v7 (time-ordered) for efficient B-tree indexing and natural
// chronological ordering without a separate created_at sort. CreatedAt and
// UpdatedAt are managed automatically by GORM.
type base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a new UUID v7 if the ID is not already set.
func (b *base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// softDelete extends base with a nullable DeletedAt field for soft deletion.
type softDelete struct {
	base
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// -----------------------------------------------------------------------------
// Users & sessions
// -----------------------------------------------------------------------------

// User is a locally-authenticated account. Email is stored lowercased and
// unique; Username is optional but unique when set.
type User struct {
	base
	Email         string `gorm:"uniqueIndex;not null"`
	Username      string `gorm:"uniqueIndex:idx_users_username,where:username <> ''"`
	PasswordHash  string `gorm:"not null"` // vault.HashPassword output
	EmailVerified bool   `gorm:"not null;default:false"`
}

// Session is an issued bearer token. Token is the raw signed JWT; it is
// indexed uniquely so currentUser can resolve it with a single lookup.
// Rows past ExpiresAt are treated as absent; they are removed only when
// SessionRepository.DeleteExpired is called, which no component does.
type Session struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	Token     string    `gorm:"uniqueIndex;not null"`
	UserID    uuid.UUID `gorm:"type:text;not null;index"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null"`
}

// EmailVerification is a one-shot token minted at registration and consumed
// by verifyEmail. Only one live row per user is expected but not enforced at
// the schema level — the store enforces it by deleting on success.
type EmailVerification struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	UserID    uuid.UUID `gorm:"type:text;not null;index"`
	Token     string    `gorm:"uniqueIndex;not null"`
	ExpiresAt time.Time `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// -----------------------------------------------------------------------------
// Organizations & membership
// -----------------------------------------------------------------------------

// Organization is the tenancy boundary. BackupPasswordHash gates every
// backup/export operation regardless of the caller's role. TelegramBotToken
// is encrypted at rest; TelegramChatID is not sensitive on its own.
type Organization struct {
	base
	Name               string               `gorm:"not null"`
	CreatedBy          uuid.UUID            `gorm:"type:text;not null;index"`
	BackupPasswordHash string               `gorm:"not null"`
	TelegramBotToken   vault.EncryptedString `gorm:"type:text;default:''"`
	TelegramChatID     string               `gorm:"default:''"`
}

// Membership is the join row between User and Organization. The pair
// (OrganizationID, UserID) is unique — isMember/isAdmin resolve to a single
// row lookup on this table.
type Membership struct {
	OrganizationID uuid.UUID `gorm:"type:text;primaryKey"`
	UserID         uuid.UUID `gorm:"type:text;primaryKey"`
	Role           string    `gorm:"not null"` // "admin" or "member"
	JoinedAt       time.Time `gorm:"not null"`
}

// Invitation is a pending or resolved invite to join an Organization by
// email. Token is high-entropy and unique; Status moves
// pending -> accepted|revoked and never back.
type Invitation struct {
	base
	OrganizationID uuid.UUID `gorm:"type:text;not null;index"`
	Email          string    `gorm:"not null"`
	Token          string    `gorm:"uniqueIndex;not null"`
	InvitedBy      uuid.UUID `gorm:"type:text;not null"`
	ExpiresAt      time.Time `gorm:"not null"`
	Status         string    `gorm:"not null;default:'pending'"`
}

// -----------------------------------------------------------------------------
// Connections
// -----------------------------------------------------------------------------

// Connection is a registered MongoDB deployment. The connection string is
// encrypted at rest via vault.EncryptedString and is never returned to a
// client once written.
type Connection struct {
	base
	OrganizationID     uuid.UUID             `gorm:"type:text;not null;index"`
	DisplayName        string                `gorm:"not null"`
	EncryptedURI        vault.EncryptedString `gorm:"type:text;not null"`
	CreatedBy          uuid.UUID             `gorm:"type:text;not null"`
}

// ConnectionPermission grants a member explicit access to a Connection.
// Admins never need a row here — canAccessConnection short-circuits on
// isAdmin before consulting this table.
type ConnectionPermission struct {
	UserID         uuid.UUID `gorm:"type:text;primaryKey"`
	ConnectionID   uuid.UUID `gorm:"type:text;primaryKey"`
	OrganizationID uuid.UUID `gorm:"type:text;not null;index"`
	GrantedAt      time.Time `gorm:"not null"`
}

// -----------------------------------------------------------------------------
// Backup schedules & logs
// -----------------------------------------------------------------------------

// BackupSchedule is a recurring backup definition. Days is a JSON array of
// weekday integers (0=Sunday), Times a JSON array of "HH:MM" strings, and
// Collections a JSON array of collection names (empty means "all
// non-system"). Destination config is provider-specific JSON.
type BackupSchedule struct {
	base
	OrganizationID   uuid.UUID  `gorm:"type:text;not null;index"`
	ConnectionID     uuid.UUID  `gorm:"type:text;not null;index"`
	DatabaseName     string     `gorm:"not null"`
	Collections      string     `gorm:"type:text;not null;default:'[]'"` // JSON array
	DestinationType  string     `gorm:"not null"`
	DestinationConfig string    `gorm:"type:text;not null;default:'{}'"` // JSON
	Days             string     `gorm:"type:text;not null"` // JSON array of 0..6
	Times            string     `gorm:"type:text;not null"` // JSON array of "HH:MM"
	Timezone         string     `gorm:"not null;default:'UTC'"`
	RetentionCount   int        `gorm:"not null;default:7"`
	Enabled          bool       `gorm:"not null;default:true"`
	CreatedBy        uuid.UUID  `gorm:"type:text;not null"`
	LastRunAt        *time.Time
	NextRunAt        *time.Time
}

// BackupLog records one execution attempt, scheduled or ad-hoc.
// ScheduleID is nil for ad-hoc runs. Status moves
// running -> success|error, and success -> deleted via retention.
type BackupLog struct {
	base
	ScheduleID          *uuid.UUID `gorm:"type:text;index"`
	OrganizationID      uuid.UUID  `gorm:"type:text;not null;index"`
	UserID              uuid.UUID  `gorm:"type:text;not null"`
	ConnectionName      string     `gorm:"not null"` // denormalized at execution time
	DatabaseName        string     `gorm:"not null"`
	Status              string     `gorm:"not null;default:'running';index"`
	StartedAt           time.Time  `gorm:"not null;index"`
	CompletedAt         *time.Time
	DurationMs          *int64
	CollectionsBackedUp string `gorm:"type:text;default:'[]'"` // JSON array
	FileSizeBytes       int64  `gorm:"default:0"`
	FilePath            string `gorm:"default:''"` // object-store file id
	FileLink            string `gorm:"default:''"`
	Error               string     `gorm:"type:text;default:''"`
	RetentionDeletedAt  *time.Time // set when status transitions success -> deleted
	DeletedReason       string     `gorm:"default:''"`
}

// -----------------------------------------------------------------------------
// Object-store OAuth
// -----------------------------------------------------------------------------

// OAuthToken holds a user's object-store OAuth grant. Unique on
// (UserID, Provider). Both tokens are encrypted at rest.
type OAuthToken struct {
	base
	UserID                uuid.UUID             `gorm:"type:text;not null;uniqueIndex:idx_oauth_user_provider"`
	Provider              string                `gorm:"not null;uniqueIndex:idx_oauth_user_provider"`
	EncryptedAccessToken  vault.EncryptedString `gorm:"type:text;not null"`
	EncryptedRefreshToken vault.EncryptedString `gorm:"type:text;not null"`
	ExpiresAt             time.Time             `gorm:"not null"`
}

// TableName pins the table to "oauth_tokens" — GORM's default namer would
// otherwise split "OAuth" into "o_auth".
func (OAuthToken) TableName() string { return "oauth_tokens" }
