// Command vaultkeep-seed creates a verified user and a founding
// organization directly against the vaultkeepd database, bypassing the
// email-verification side channel. Useful for bootstrapping a fresh
// deployment or for local development.
//
// Usage:
//
//	go run ./cmd/vaultkeep-seed \
//	  --email admin@example.com \
//	  --username admin \
//	  --password secret123 \
//	  --org-name "Acme" \
//	  --backup-password org-secret
//
// Environment variables:
//
//	VAULTKEEP_DB_DSN      SQLite file path or Postgres DSN (default: ./vaultkeep.db)
//	VAULTKEEP_MASTER_KEY  Master encryption key — must match the value vaultkeepd runs with
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/vaultkeep-io/vaultkeep/internal/db"
	"github.com/vaultkeep-io/vaultkeep/internal/identity"
	"github.com/vaultkeep-io/vaultkeep/internal/repository"
	"github.com/vaultkeep-io/vaultkeep/internal/tenancy"
	"github.com/vaultkeep-io/vaultkeep/internal/vault"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	email := flag.String("email", "", "User email (required)")
	username := flag.String("username", "", "Username (required)")
	password := flag.String("password", "", "Plain-text password (required)")
	orgName := flag.String("org-name", "", "Founding organization name (required)")
	backupPassword := flag.String("backup-password", "", "Organization backup password (required)")
	flag.Parse()

	if *email == "" || *username == "" || *password == "" {
		return fmt.Errorf("--email, --username and --password are all required")
	}
	if *orgName == "" || *backupPassword == "" {
		return fmt.Errorf("--org-name and --backup-password are both required")
	}

	dsn := envOrDefault("VAULTKEEP_DB_DSN", "./vaultkeep.db")

	masterKey := os.Getenv("VAULTKEEP_MASTER_KEY")
	if masterKey == "" {
		return fmt.Errorf(
			"VAULTKEEP_MASTER_KEY is not set\n" +
				"  Set it to the same value vaultkeepd runs with, otherwise encrypted\n" +
				"  connection strings and OAuth tokens will be unreadable later.",
		)
	}
	keyBytes := make([]byte, 32)
	copy(keyBytes, []byte(masterKey))
	if err := vault.Init(keyBytes); err != nil {
		return fmt.Errorf("init vault: %w", err)
	}

	logger, _ := zap.NewDevelopment()

	gormDB, err := db.New(db.Config{
		Driver:   "sqlite",
		DSN:      dsn,
		Logger:   logger,
		LogLevel: "silent",
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	userRepo := repository.NewUserRepository(gormDB)
	sessionRepo := repository.NewSessionRepository(gormDB)
	verificationRepo := repository.NewEmailVerificationRepository(gormDB)
	orgRepo := repository.NewOrganizationRepository(gormDB)
	membershipRepo := repository.NewMembershipRepository(gormDB)
	invitationRepo := repository.NewInvitationRepository(gormDB)
	permissionRepo := repository.NewConnectionPermissionRepository(gormDB)

	jwtManager, err := identity.NewJWTManager(keyBytes, "vaultkeep-seed")
	if err != nil {
		return fmt.Errorf("init JWT manager: %w", err)
	}
	identitySvc := identity.New(userRepo, sessionRepo, verificationRepo, jwtManager, 0, logger)

	ctx := context.Background()
	result, err := identitySvc.Register(ctx, *email, *username, *password)
	if err != nil {
		return fmt.Errorf("register user: %w", err)
	}
	if err := identitySvc.VerifyEmail(ctx, result.Token); err != nil {
		return fmt.Errorf("verify email: %w", err)
	}

	tenancyStore := tenancy.New(orgRepo, membershipRepo, invitationRepo, permissionRepo, userRepo, logger)
	orgID, err := tenancyStore.CreateOrganization(ctx, result.UserID, *orgName, *backupPassword)
	if err != nil {
		return fmt.Errorf("create organization: %w", err)
	}

	fmt.Printf("User created and verified\n")
	fmt.Printf("  User ID:  %s\n", result.UserID)
	fmt.Printf("  Email:    %s\n", *email)
	fmt.Printf("  Org ID:   %s\n", orgID)
	fmt.Printf("  Org name: %s\n", *orgName)
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
