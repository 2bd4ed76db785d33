package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/vaultkeep-io/vaultkeep/internal/api"
	"github.com/vaultkeep-io/vaultkeep/internal/db"
	"github.com/vaultkeep-io/vaultkeep/internal/evaluator"
	"github.com/vaultkeep-io/vaultkeep/internal/executor"
	"github.com/vaultkeep-io/vaultkeep/internal/identity"
	"github.com/vaultkeep-io/vaultkeep/internal/mongoregistry"
	"github.com/vaultkeep-io/vaultkeep/internal/notification"
	"github.com/vaultkeep-io/vaultkeep/internal/objectstore/drive"
	"github.com/vaultkeep-io/vaultkeep/internal/repository"
	"github.com/vaultkeep-io/vaultkeep/internal/schedulestore"
	"github.com/vaultkeep-io/vaultkeep/internal/scheduler"
	"github.com/vaultkeep-io/vaultkeep/internal/tenancy"
	"github.com/vaultkeep-io/vaultkeep/internal/vault"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	httpAddr              string
	dbDriver              string
	dbDSN                 string
	masterKey             string
	sessionTTL            time.Duration
	tickInterval          time.Duration
	workerPoolSize        int64
	maxExecutionDuration  time.Duration
	orphanedRunningGrace  time.Duration
	defaultRetentionCount int
	mongoPoolSize         uint64
	logLevel              string
	jwtIssuer             string

	oauthClientID     string
	oauthClientSecret string
	oauthRedirectURL  string
	oauthAuthURL      string
	oauthTokenURL     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "vaultkeepd",
		Short: "vaultkeepd — scheduled MongoDB backup engine",
		Long: `vaultkeepd evaluates backup schedules, executes them against target
MongoDB deployments, archives the result, and uploads it to a connected
object store. It exposes a REST API for organizations, connections,
schedules and backup history.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.httpAddr, "http-addr", envOrDefault("VAULTKEEP_HTTP_ADDR", ":8080"), "HTTP API listen address")
	root.PersistentFlags().StringVar(&cfg.dbDriver, "db-driver", envOrDefault("VAULTKEEP_DB_DRIVER", "sqlite"), "Application database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.dbDSN, "db-dsn", envOrDefault("VAULTKEEP_DB_DSN", "./vaultkeep.db"), "Application database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&cfg.masterKey, "master-key", envOrDefault("VAULTKEEP_MASTER_KEY", ""), "Master key for encrypting connection strings and OAuth tokens at rest (required)")
	root.PersistentFlags().DurationVar(&cfg.sessionTTL, "session-ttl", envDurationOrDefault("VAULTKEEP_SESSION_TTL", 7*24*time.Hour), "Session token lifetime")
	root.PersistentFlags().DurationVar(&cfg.tickInterval, "tick-interval", envDurationOrDefault("VAULTKEEP_TICK_INTERVAL", 60*time.Second), "SchedulerLoop tick interval")
	root.PersistentFlags().Int64Var(&cfg.workerPoolSize, "worker-pool-size", envInt64OrDefault("VAULTKEEP_WORKER_POOL_SIZE", 4), "Maximum concurrent backup executions")
	root.PersistentFlags().DurationVar(&cfg.maxExecutionDuration, "max-execution-duration", envDurationOrDefault("VAULTKEEP_MAX_EXECUTION_DURATION", 30*time.Minute), "Hard timeout for a single backup execution")
	root.PersistentFlags().DurationVar(&cfg.orphanedRunningGrace, "orphaned-running-grace", envDurationOrDefault("VAULTKEEP_ORPHANED_RUNNING_GRACE", 1*time.Hour), "Age at which a BackupLog still \"running\" at startup is marked failed")
	root.PersistentFlags().IntVar(&cfg.defaultRetentionCount, "default-retention-count", envIntOrDefault("VAULTKEEP_DEFAULT_RETENTION_COUNT", 7), "Default number of successful runs retained per schedule")
	root.PersistentFlags().Uint64Var(&cfg.mongoPoolSize, "mongo-pool-size", uint64(envInt64OrDefault("VAULTKEEP_MONGO_POOL_SIZE", 10)), "Max pool size per pooled target-MongoDB client")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("VAULTKEEP_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.jwtIssuer, "jwt-issuer", envOrDefault("VAULTKEEP_JWT_ISSUER", "vaultkeepd"), "JWT issuer claim")

	root.PersistentFlags().StringVar(&cfg.oauthClientID, "oauth-client-id", envOrDefault("VAULTKEEP_OAUTH_CLIENT_ID", ""), "Object-store OAuth2 client ID")
	root.PersistentFlags().StringVar(&cfg.oauthClientSecret, "oauth-client-secret", envOrDefault("VAULTKEEP_OAUTH_CLIENT_SECRET", ""), "Object-store OAuth2 client secret")
	root.PersistentFlags().StringVar(&cfg.oauthRedirectURL, "oauth-redirect-url", envOrDefault("VAULTKEEP_OAUTH_REDIRECT_URL", ""), "Object-store OAuth2 redirect URL")
	root.PersistentFlags().StringVar(&cfg.oauthAuthURL, "oauth-auth-url", envOrDefault("VAULTKEEP_OAUTH_AUTH_URL", "https://accounts.google.com/o/oauth2/auth"), "Object-store OAuth2 authorization endpoint")
	root.PersistentFlags().StringVar(&cfg.oauthTokenURL, "oauth-token-url", envOrDefault("VAULTKEEP_OAUTH_TOKEN_URL", "https://oauth2.googleapis.com/token"), "Object-store OAuth2 token endpoint")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vaultkeepd %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.masterKey == "" {
		return fmt.Errorf("master key is required — set --master-key or VAULTKEEP_MASTER_KEY")
	}

	logger.Info("starting vaultkeepd",
		zap.String("version", version),
		zap.String("http_addr", cfg.httpAddr),
		zap.String("db_driver", cfg.dbDriver),
		zap.String("log_level", cfg.logLevel),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Vault (C1 CredentialVault) ---
	// Must run before anything touches an encrypted column: connection
	// strings, OAuth tokens and the Telegram bot token are transparently
	// en/decrypted through this package's EncryptedString, not through GORM
	// hooks.
	keyBytes := make([]byte, 32)
	copy(keyBytes, []byte(cfg.masterKey))
	if err := vault.Init(keyBytes); err != nil {
		return fmt.Errorf("failed to initialize vault: %w", err)
	}

	// --- 2. Database ---
	gormDB, err := db.New(db.Config{
		Driver:   cfg.dbDriver,
		DSN:      cfg.dbDSN,
		Logger:   logger,
		LogLevel: cfg.logLevel,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	// --- Repositories ---
	userRepo := repository.NewUserRepository(gormDB)
	sessionRepo := repository.NewSessionRepository(gormDB)
	verificationRepo := repository.NewEmailVerificationRepository(gormDB)
	orgRepo := repository.NewOrganizationRepository(gormDB)
	membershipRepo := repository.NewMembershipRepository(gormDB)
	invitationRepo := repository.NewInvitationRepository(gormDB)
	connectionRepo := repository.NewConnectionRepository(gormDB)
	permissionRepo := repository.NewConnectionPermissionRepository(gormDB)
	scheduleRepo := repository.NewScheduleRepository(gormDB)
	backupLogRepo := repository.NewBackupLogRepository(gormDB)
	oauthTokenRepo := repository.NewOAuthTokenRepository(gormDB)

	// --- 3. IdentityStore (C2) ---
	jwtManager, err := identity.NewJWTManager(keyBytes, cfg.jwtIssuer)
	if err != nil {
		return fmt.Errorf("failed to initialize JWT manager: %w", err)
	}
	identitySvc := identity.New(userRepo, sessionRepo, verificationRepo, jwtManager, cfg.sessionTTL, logger)

	// --- 4. TenancyStore (C3) ---
	tenancyStore := tenancy.New(orgRepo, membershipRepo, invitationRepo, permissionRepo, userRepo, logger)
	pred := tenancyStore.Predicates()

	// --- 5. ConnectionRegistry (C4) ---
	registry := mongoregistry.New(connectionRepo, pred, cfg.mongoPoolSize, logger)
	defer registry.Close(context.Background())

	// --- 6. ScheduleStore (C5) ---
	scheduleStore := schedulestore.New(scheduleRepo, backupLogRepo, pred, cfg.defaultRetentionCount)

	// --- 7. NotificationSink (C9) ---
	notifier := notification.New(logger)

	// --- 8. object store (destination collaborator) ---
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.oauthClientID,
		ClientSecret: cfg.oauthClientSecret,
		RedirectURL:  cfg.oauthRedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.oauthAuthURL,
			TokenURL: cfg.oauthTokenURL,
		},
		Scopes: []string{"https://www.googleapis.com/auth/drive.file"},
	}
	store := drive.New(oauthCfg, oauthTokenRepo)

	// --- 9. BackupExecutor (C7) ---
	exec := executor.New(scheduleRepo, backupLogRepo, orgRepo, registry, store, pred, notifier, cfg.maxExecutionDuration, logger)

	// --- 10. SchedulerLoop (C8) ---
	eval := evaluator.New(backupLogRepo, logger)
	loop, err := scheduler.New(scheduleRepo, eval, exec, cfg.tickInterval, cfg.workerPoolSize, 15*time.Second, logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler loop: %w", err)
	}
	if err := loop.Start(ctx, cfg.orphanedRunningGrace); err != nil {
		return fmt.Errorf("failed to start scheduler loop: %w", err)
	}
	defer func() {
		if err := loop.Stop(); err != nil {
			logger.Warn("scheduler loop shutdown error", zap.Error(err))
		}
	}()

	// --- 11. HTTP ---
	router := api.NewRouter(api.RouterConfig{
		Identity:    identitySvc,
		Tenancy:     tenancyStore,
		Registry:    registry,
		Schedules:   scheduleStore,
		Executor:    exec,
		ObjectStore: store,
		Memberships: membershipRepo,
		BackupLogs:  backupLogRepo,
		Logger:      logger,
	})

	httpSrv := &http.Server{
		Addr:         cfg.httpAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down vaultkeepd")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("vaultkeepd stopped")
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envInt64OrDefault(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		var parsed int64
		if _, err := fmt.Sscanf(v, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	return int(envInt64OrDefault(key, int64(defaultVal)))
}
