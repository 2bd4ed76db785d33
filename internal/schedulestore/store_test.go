package schedulestore

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	_ "modernc.org/sqlite"

	"github.com/vaultkeep-io/vaultkeep/internal/apperr"
	"github.com/vaultkeep-io/vaultkeep/internal/db"
	"github.com/vaultkeep-io/vaultkeep/internal/repository"
	"github.com/vaultkeep-io/vaultkeep/internal/tenancy"
)

// testEnv bundles a Store with direct repository access so tests can seed
// memberships without going through internal/tenancy.
type testEnv struct {
	store       *Store
	memberships repository.MembershipRepository
	logs        repository.BackupLogRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

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
		&db.User{}, &db.Organization{}, &db.Membership{},
		&db.Connection{}, &db.ConnectionPermission{},
		&db.BackupSchedule{}, &db.BackupLog{},
	))
	t.Cleanup(func() { _ = sqlDB.Close() })

	memberships := repository.NewMembershipRepository(gdb)
	permissions := repository.NewConnectionPermissionRepository(gdb)
	orgs := repository.NewOrganizationRepository(gdb)
	logs := repository.NewBackupLogRepository(gdb)
	pred := tenancy.NewPredicates(memberships, permissions, orgs)

	return &testEnv{
		store:       New(repository.NewScheduleRepository(gdb), logs, pred, 7),
		memberships: memberships,
		logs:        logs,
	}
}

func (e *testEnv) seedAdmin(t *testing.T, orgID, userID uuid.UUID) {
	t.Helper()
	require.NoError(t, e.memberships.Create(context.Background(), &db.Membership{
		OrganizationID: orgID, UserID: userID, Role: tenancy.RoleAdmin, JoinedAt: time.Now(),
	}))
}

func validSpec() Spec {
	return Spec{
		ConnectionID:    uuid.Must(uuid.NewV7()),
		DatabaseName:    "app",
		Collections:     []string{"users", "orders"},
		DestinationType: "drive",
		Days:            []int{1, 3, 5},
		Times:           []string{"02:00"},
		Timezone:        "UTC",
		RetentionCount:  5,
	}
}

func TestCreateRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	orgID := uuid.Must(uuid.NewV7())
	outsider := uuid.Must(uuid.NewV7())

	_, err := env.store.Create(ctx, outsider, orgID, validSpec())
	require.ErrorIs(t, err, apperr.PermissionDenied)
}

func TestCreateComputesNextRun(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	orgID := uuid.Must(uuid.NewV7())
	admin := uuid.Must(uuid.NewV7())
	env.seedAdmin(t, orgID, admin)

	schedule, err := env.store.Create(ctx, admin, orgID, validSpec())
	require.NoError(t, err)
	require.NotNil(t, schedule.NextRunAt)
	require.True(t, schedule.Enabled)
	require.Equal(t, 5, schedule.RetentionCount)
}

func TestCreateRejectsEmptyDays(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	orgID := uuid.Must(uuid.NewV7())
	admin := uuid.Must(uuid.NewV7())
	env.seedAdmin(t, orgID, admin)

	spec := validSpec()
	spec.Days = nil
	_, err := env.store.Create(ctx, admin, orgID, spec)
	require.ErrorIs(t, err, apperr.ValidationError)
}

func TestCreateDefaultsRetentionCount(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	orgID := uuid.Must(uuid.NewV7())
	admin := uuid.Must(uuid.NewV7())
	env.seedAdmin(t, orgID, admin)

	spec := validSpec()
	spec.RetentionCount = 0
	schedule, err := env.store.Create(ctx, admin, orgID, spec)
	require.NoError(t, err)
	require.Equal(t, 7, schedule.RetentionCount)
}

func TestSetEnabledTogglesAndRecomputesNextRun(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	orgID := uuid.Must(uuid.NewV7())
	admin := uuid.Must(uuid.NewV7())
	env.seedAdmin(t, orgID, admin)

	schedule, err := env.store.Create(ctx, admin, orgID, validSpec())
	require.NoError(t, err)

	disabled, err := env.store.SetEnabled(ctx, admin, orgID, schedule.ID, false)
	require.NoError(t, err)
	require.False(t, disabled.Enabled)
	require.Nil(t, disabled.NextRunAt)

	enabled, err := env.store.SetEnabled(ctx, admin, orgID, schedule.ID, true)
	require.NoError(t, err)
	require.True(t, enabled.Enabled)
	require.NotNil(t, enabled.NextRunAt)
}

func TestDeleteRemovesSchedule(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	orgID := uuid.Must(uuid.NewV7())
	admin := uuid.Must(uuid.NewV7())
	env.seedAdmin(t, orgID, admin)

	schedule, err := env.store.Create(ctx, admin, orgID, validSpec())
	require.NoError(t, err)

	require.NoError(t, env.store.Delete(ctx, admin, orgID, schedule.ID))

	_, err = env.store.Get(ctx, admin, orgID, schedule.ID)
	require.ErrorIs(t, err, apperr.NotFound)
}

func TestNextRunPicksEarliestUpcomingSlot(t *testing.T) {
	loc := time.UTC
	// Monday 2024-01-01 is a Monday (weekday 1).
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, loc)
	next := NextRun(now, []int{1, 3}, []string{"02:00", "23:00"}, loc)
	require.Equal(t, time.Date(2024, 1, 1, 23, 0, 0, 0, loc), next)
	require.True(t, next.After(now))
}
