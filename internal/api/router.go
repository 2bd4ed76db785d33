package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vaultkeep-io/vaultkeep/internal/executor"
	"github.com/vaultkeep-io/vaultkeep/internal/identity"
	"github.com/vaultkeep-io/vaultkeep/internal/mongoregistry"
	"github.com/vaultkeep-io/vaultkeep/internal/objectstore"
	"github.com/vaultkeep-io/vaultkeep/internal/repository"
	"github.com/vaultkeep-io/vaultkeep/internal/schedulestore"
	"github.com/vaultkeep-io/vaultkeep/internal/tenancy"
)

// RouterConfig holds every dependency NewRouter needs to build handlers.
// It is populated in cmd/vaultkeepd/main.go once every component has been
// constructed, in a single struct so the constructor signature stays
// manageable as the dependency count grows.
type RouterConfig struct {
	Identity     *identity.Service
	Tenancy      *tenancy.Store
	Registry     *mongoregistry.Registry
	Schedules    *schedulestore.Store
	Executor     *executor.Executor
	ObjectStore  objectstore.Store
	Memberships  repository.MembershipRepository
	BackupLogs   repository.BackupLogRepository
	Logger       *zap.Logger
}

// NewRouter builds and returns the fully configured Chi router. All API
// routes are registered under /api/v1; /metrics is exposed unauthenticated
// at the root for Prometheus scraping.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	authHandler := NewAuthHandler(cfg.Identity, cfg.Logger)
	orgHandler := NewOrganizationHandler(cfg.Tenancy, cfg.Memberships, cfg.Logger)
	connHandler := NewConnectionHandler(cfg.Registry, cfg.Logger)
	docHandler := NewDocumentHandler(cfg.Registry, cfg.Logger)
	scheduleHandler := NewScheduleHandler(cfg.Schedules, cfg.Logger)
	backupHandler := NewBackupHandler(cfg.Executor, cfg.Schedules, cfg.BackupLogs, cfg.Logger)
	storeHandler := NewObjectStoreHandler(cfg.ObjectStore, cfg.Logger)

	r.Route("/api/v1", func(r chi.Router) {
		// --- Public routes ---
		r.Group(func(r chi.Router) {
			r.Post("/auth/register", authHandler.Register)
			r.Post("/auth/login", authHandler.Login)
			r.Post("/auth/verify/{token}", authHandler.VerifyEmail)
		})

		// --- Authenticated routes ---
		r.Group(func(r chi.Router) {
			r.Use(Authenticate(cfg.Identity))

			r.Post("/auth/logout", authHandler.Logout)
			r.Get("/auth/me", authHandler.Me)

			r.Post("/organizations", orgHandler.Create)
			r.Get("/organizations", orgHandler.List)
			r.Delete("/organizations/{id}", orgHandler.Delete)
			r.Put("/organizations/{id}/backup-password", orgHandler.ResetBackupPassword)
			r.Post("/organizations/{id}/members", orgHandler.Invite)
			r.Get("/organizations/{id}/members", orgHandler.ListMembers)
			r.Put("/organizations/{id}/members/{userId}", orgHandler.SetRole)
			r.Delete("/organizations/{id}/members/{userId}", orgHandler.RemoveMember)
			r.Post("/organizations/{id}/invitations/{token}", orgHandler.AcceptInvitation)
			r.Post("/organizations/{id}/connection-permissions", orgHandler.GrantConnection)
			r.Delete("/organizations/{id}/connection-permissions", orgHandler.RevokeConnection)

			r.Route("/organizations/{orgId}/connections", func(r chi.Router) {
				r.Post("/", connHandler.Create)
				r.Get("/", connHandler.List)
				r.Put("/{id}", connHandler.Update)
				r.Delete("/{id}", connHandler.Delete)
				r.Post("/{id}/test", connHandler.Test)

				r.Get("/{id}/databases", docHandler.ListDatabases)
				r.Get("/{id}/databases/{database}/collections", docHandler.ListCollections)
				r.Get("/{id}/databases/{database}/collections/{collection}/documents", docHandler.GetDocuments)
				r.Post("/{id}/databases/{database}/collections/{collection}/aggregate", docHandler.RunAggregate)
			})

			r.Route("/organizations/{orgId}/schedules", func(r chi.Router) {
				r.Post("/", scheduleHandler.Create)
				r.Get("/", scheduleHandler.List)
				r.Get("/{id}", scheduleHandler.Get)
				r.Put("/{id}", scheduleHandler.Update)
				r.Delete("/{id}", scheduleHandler.Delete)
				r.Put("/{id}/enabled", scheduleHandler.SetEnabled)
				r.Post("/{id}/execute", backupHandler.Execute)
				r.Get("/{id}/retention", backupHandler.RetentionPreview)
			})

			r.Get("/organizations/{orgId}/backup-logs", backupHandler.ListLogs)
			r.Post("/organizations/{orgId}/export", backupHandler.Export)

			r.Get("/object-store/auth-url", storeHandler.AuthURL)
			r.Post("/object-store/callback", storeHandler.Callback)
			r.Get("/object-store/status", storeHandler.Status)
			r.Delete("/object-store/connection", storeHandler.Disconnect)
		})
	})

	return r
}
