package tenancy

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	_ "modernc.org/sqlite"

	"github.com/vaultkeep-io/vaultkeep/internal/apperr"
	"github.com/vaultkeep-io/vaultkeep/internal/db"
	"github.com/vaultkeep-io/vaultkeep/internal/repository"
	"github.com/vaultkeep-io/vaultkeep/internal/vault"
)

func newTestStore(t *testing.T) (*Store, repository.UserRepository) {
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
		&db.User{}, &db.Organization{}, &db.Membership{}, &db.Invitation{},
		&db.Connection{}, &db.ConnectionPermission{},
	))
	t.Cleanup(func() { _ = sqlDB.Close() })

	users := repository.NewUserRepository(gdb)
	store := New(
		repository.NewOrganizationRepository(gdb),
		repository.NewMembershipRepository(gdb),
		repository.NewInvitationRepository(gdb),
		repository.NewConnectionPermissionRepository(gdb),
		users,
		zap.NewNop(),
	)
	return store, users
}

func createUser(t *testing.T, users repository.UserRepository, email string) uuid.UUID {
	t.Helper()
	u := &db.User{Email: email, Username: email, PasswordHash: "x", EmailVerified: true}
	require.NoError(t, users.Create(context.Background(), u))
	return u.ID
}

func TestCreateOrganizationMakesFoundingAdmin(t *testing.T) {
	ctx := context.Background()
	store, users := newTestStore(t)
	founder := createUser(t, users, "founder@example.com")

	orgID, err := store.CreateOrganization(ctx, founder, "Acme", "backup-secret")
	require.NoError(t, err)

	isAdmin, err := store.Predicates().IsAdmin(ctx, founder, orgID)
	require.NoError(t, err)
	require.True(t, isAdmin)

	orgs, err := store.ListOrganizationsForUser(ctx, founder)
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	require.Equal(t, RoleAdmin, orgs[0].Role)
}

func TestInviteAcceptAddsMember(t *testing.T) {
	ctx := context.Background()
	store, users := newTestStore(t)
	founder := createUser(t, users, "founder@example.com")
	invitee := createUser(t, users, "invitee@example.com")

	orgID, err := store.CreateOrganization(ctx, founder, "Acme", "backup-secret")
	require.NoError(t, err)

	token, err := store.Invite(ctx, founder, orgID, "invitee@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	require.NoError(t, store.AcceptInvitation(ctx, invitee, token))

	member, err := store.Predicates().IsMember(ctx, invitee, orgID)
	require.NoError(t, err)
	require.True(t, member)

	isAdmin, err := store.Predicates().IsAdmin(ctx, invitee, orgID)
	require.NoError(t, err)
	require.False(t, isAdmin)
}

func TestInviteRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	store, users := newTestStore(t)
	founder := createUser(t, users, "founder@example.com")
	member := createUser(t, users, "member@example.com")
	outsider := createUser(t, users, "outsider@example.com")

	orgID, err := store.CreateOrganization(ctx, founder, "Acme", "backup-secret")
	require.NoError(t, err)

	token, err := store.Invite(ctx, founder, orgID, "member@example.com")
	require.NoError(t, err)
	require.NoError(t, store.AcceptInvitation(ctx, member, token))

	_, err = store.Invite(ctx, member, orgID, "someone-else@example.com")
	require.ErrorIs(t, err, apperr.PermissionDenied)

	_, err = store.Invite(ctx, outsider, orgID, "someone-else@example.com")
	require.ErrorIs(t, err, apperr.PermissionDenied)
}

func TestResetBackupPasswordChangesVerification(t *testing.T) {
	ctx := context.Background()
	store, users := newTestStore(t)
	founder := createUser(t, users, "founder@example.com")

	orgID, err := store.CreateOrganization(ctx, founder, "Acme", "old-secret")
	require.NoError(t, err)

	ok, err := store.VerifyBackupPassword(ctx, orgID, "old-secret")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.ResetBackupPassword(ctx, founder, orgID, "new-secret"))

	ok, err = store.VerifyBackupPassword(ctx, orgID, "old-secret")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = store.VerifyBackupPassword(ctx, orgID, "new-secret")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRemoveMemberRevokesAccess(t *testing.T) {
	ctx := context.Background()
	store, users := newTestStore(t)
	founder := createUser(t, users, "founder@example.com")
	member := createUser(t, users, "member@example.com")

	orgID, err := store.CreateOrganization(ctx, founder, "Acme", "backup-secret")
	require.NoError(t, err)
	token, err := store.Invite(ctx, founder, orgID, "member@example.com")
	require.NoError(t, err)
	require.NoError(t, store.AcceptInvitation(ctx, member, token))

	require.NoError(t, store.RemoveMember(ctx, founder, orgID, member))

	isMember, err := store.Predicates().IsMember(ctx, member, orgID)
	require.NoError(t, err)
	require.False(t, isMember)
}
