package repository

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	// modernc pure-Go SQLite driver, registers itself as "sqlite" — same
	// driver internal/db.New uses, kept consistent so tests exercise the
	// same code path as production.
	_ "modernc.org/sqlite"

	"github.com/vaultkeep-io/vaultkeep/internal/db"
	"github.com/vaultkeep-io/vaultkeep/internal/vault"
)

// newTestDB opens an isolated in-memory SQLite database, auto-migrates every
// model via GORM (not golang-migrate — that requires SQL files on disk this
// test has no need of), and initializes the vault with a throwaway key so
// EncryptedString columns round-trip.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	require.NoError(t, vault.Init([]byte("01234567890123456789012345678901")))

	id := uuid.Must(uuid.NewV7())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", id.String())

	sqlDB, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	gdb, err := gorm.Open(gormsqlite.Dialector{Conn: sqlDB}, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, gdb.AutoMigrate(
		&db.User{}, &db.Session{}, &db.EmailVerification{},
		&db.Organization{}, &db.Membership{}, &db.Invitation{},
		&db.Connection{}, &db.ConnectionPermission{},
		&db.BackupSchedule{}, &db.BackupLog{}, &db.OAuthToken{},
	))

	t.Cleanup(func() { _ = sqlDB.Close() })

	return gdb
}

func TestUserRepositoryCreateAndLookups(t *testing.T) {
	ctx := context.Background()
	gdb := newTestDB(t)
	repo := NewUserRepository(gdb)

	u := &db.User{Email: "person@example.com", Username: "person", PasswordHash: "x:y"}
	require.NoError(t, repo.Create(ctx, u))
	require.NotEqual(t, uuid.UUID{}, u.ID)

	byID, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, u.Email, byID.Email)

	byEmail, err := repo.GetByEmail(ctx, "person@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, byEmail.ID)

	_, err = repo.GetByEmail(ctx, "nobody@example.com")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUserRepositoryDuplicateEmailConflict(t *testing.T) {
	ctx := context.Background()
	gdb := newTestDB(t)
	repo := NewUserRepository(gdb)

	require.NoError(t, repo.Create(ctx, &db.User{Email: "dup@example.com", PasswordHash: "x"}))
	err := repo.Create(ctx, &db.User{Email: "dup@example.com", PasswordHash: "y"})
	require.ErrorIs(t, err, ErrConflict)
}

func TestOrganizationCascadeDelete(t *testing.T) {
	ctx := context.Background()
	gdb := newTestDB(t)
	orgs := NewOrganizationRepository(gdb)
	members := NewMembershipRepository(gdb)
	conns := NewConnectionRepository(gdb)
	schedules := NewScheduleRepository(gdb)

	adminID := uuid.Must(uuid.NewV7())
	org := &db.Organization{Name: "acme", CreatedBy: adminID, BackupPasswordHash: "h"}
	require.NoError(t, orgs.Create(ctx, org))
	require.NoError(t, members.Create(ctx, &db.Membership{OrganizationID: org.ID, UserID: adminID, Role: "admin"}))

	conn := &db.Connection{OrganizationID: org.ID, DisplayName: "prod", CreatedBy: adminID}
	require.NoError(t, conns.Create(ctx, conn))

	sched := &db.BackupSchedule{
		OrganizationID: org.ID, ConnectionID: conn.ID, DatabaseName: "app",
		DestinationType: "drive", Days: "[1]", Times: `["02:00"]`, CreatedBy: adminID,
	}
	require.NoError(t, schedules.Create(ctx, sched))

	require.NoError(t, orgs.Delete(ctx, org.ID))

	_, err := members.Get(ctx, org.ID, adminID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = conns.GetByID(ctx, conn.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = schedules.GetByID(ctx, sched.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBackupLogRetentionQueries(t *testing.T) {
	ctx := context.Background()
	gdb := newTestDB(t)
	logs := NewBackupLogRepository(gdb)

	scheduleID := uuid.Must(uuid.NewV7())
	orgID := uuid.Must(uuid.NewV7())
	userID := uuid.Must(uuid.NewV7())

	for i := 0; i < 3; i++ {
		l := &db.BackupLog{
			ScheduleID: &scheduleID, OrganizationID: orgID, UserID: userID,
			ConnectionName: "prod", DatabaseName: "app", Status: "success",
			FilePath: "backup/x.zip",
		}
		require.NoError(t, logs.Create(ctx, l))
	}

	successful, err := logs.ListSuccessfulByScheduleDesc(ctx, scheduleID)
	require.NoError(t, err)
	require.Len(t, successful, 3)

	recent, err := logs.MostRecentByScheduleIDs(ctx, []uuid.UUID{scheduleID})
	require.NoError(t, err)
	require.Contains(t, recent, scheduleID)
}
