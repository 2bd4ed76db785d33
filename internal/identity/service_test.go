package identity

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

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
)

func newTestService(t *testing.T) *Service {
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
	require.NoError(t, gdb.AutoMigrate(&db.User{}, &db.Session{}, &db.EmailVerification{}))
	t.Cleanup(func() { _ = sqlDB.Close() })

	jwtMgr, err := NewJWTManager([]byte("01234567890123456789012345678901"), "vaultkeep-test")
	require.NoError(t, err)

	logger := zap.NewNop()
	return New(
		repository.NewUserRepository(gdb),
		repository.NewSessionRepository(gdb),
		repository.NewEmailVerificationRepository(gdb),
		jwtMgr,
		time.Hour,
		logger,
	)
}

func TestRegisterLoginRequiresVerification(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	result, err := svc.Register(ctx, "Person@Example.com", "person", "hunter22")
	require.NoError(t, err)
	require.NotEmpty(t, result.Token)

	_, err = svc.Login(ctx, "person@example.com", "hunter22")
	require.ErrorIs(t, err, apperr.EmailNotVerified)

	require.NoError(t, svc.VerifyEmail(ctx, result.Token))

	token, err := svc.Login(ctx, "person@example.com", "hunter22")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	user, err := svc.CurrentUser(ctx, token)
	require.NoError(t, err)
	require.Equal(t, result.UserID, user.ID)
}

func TestLoginWrongPassword(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	result, err := svc.Register(ctx, "person@example.com", "person", "hunter22")
	require.NoError(t, err)
	require.NoError(t, svc.VerifyEmail(ctx, result.Token))

	_, err = svc.Login(ctx, "person@example.com", "wrong-password")
	require.ErrorIs(t, err, apperr.AuthFailed)
}

func TestLogoutInvalidatesSession(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	result, err := svc.Register(ctx, "person@example.com", "person", "hunter22")
	require.NoError(t, err)
	require.NoError(t, svc.VerifyEmail(ctx, result.Token))

	token, err := svc.Login(ctx, "person@example.com", "hunter22")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, token))

	_, err = svc.CurrentUser(ctx, token)
	require.Error(t, err)
}

func TestVerifyEmailRejectsUnknownToken(t *testing.T) {
	svc := newTestService(t)
	err := svc.VerifyEmail(context.Background(), "not-a-real-token")
	require.ErrorIs(t, err, apperr.NotFound)
}
