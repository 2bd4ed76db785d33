package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/vaultkeep-io/vaultkeep/internal/executor"
	"github.com/vaultkeep-io/vaultkeep/internal/repository"
	"github.com/vaultkeep-io/vaultkeep/internal/schedulestore"
)

// BackupHandler serves manual backup execution, ad-hoc export, and the
// BackupLog read surface.
type BackupHandler struct {
	executor  *executor.Executor
	schedules *schedulestore.Store
	logs      repository.BackupLogRepository
	logger    *zap.Logger
}

// NewBackupHandler constructs a BackupHandler.
func NewBackupHandler(exec *executor.Executor, schedules *schedulestore.Store, logs repository.BackupLogRepository, logger *zap.Logger) *BackupHandler {
	return &BackupHandler{executor: exec, schedules: schedules, logs: logs, logger: logger.Named("api.backups")}
}

type executeRequest struct {
	Password string `json:"password"`
}

// Execute handles POST /organizations/:orgId/schedules/:id/execute — an
// immediate, out-of-band run of an existing schedule.
func (h *BackupHandler) Execute(w http.ResponseWriter, r *http.Request) {
	_, okOrg := pathUUID(w, r, "orgId")
	if !okOrg {
		return
	}
	scheduleID, okSched := pathUUID(w, r, "id")
	if !okSched {
		return
	}
	var req executeRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			badRequest(w, "invalid request body")
			return
		}
	}
	log, err := h.executor.ExecuteSchedule(r.Context(), scheduleID, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	created(w, envelope{"backupLog": log})
}

type exportRequest struct {
	ConnectionID string `json:"connectionId"`
	DatabaseName string `json:"databaseName"`
	Collection   string `json:"collection"`
	Password     string `json:"password"`
}

// Export handles POST /organizations/:orgId/export — the supplemented
// ad-hoc fetch that skips archiving, upload and BackupLog bookkeeping.
func (h *BackupHandler) Export(w http.ResponseWriter, r *http.Request) {
	orgID, okOrg := pathUUID(w, r, "orgId")
	if !okOrg {
		return
	}
	var req exportRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	connID, okConn := pathUUIDFromValue(w, req.ConnectionID)
	if !okConn {
		return
	}
	user := currentUser(r)
	docs, err := h.executor.Export(r.Context(), executor.ExportRequest{
		OrganizationID:   orgID,
		ConnectionID:     connID,
		DatabaseName:     req.DatabaseName,
		Collection:       req.Collection,
		CallerUserID:     user.ID,
		SuppliedPassword: req.Password,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, envelope{"documents": docs})
}

// ListLogs handles GET /organizations/:orgId/backup-logs.
func (h *BackupHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	orgID, okOrg := pathUUID(w, r, "orgId")
	if !okOrg {
		return
	}
	limit := int(queryInt64(r, "limit", 50))
	offset := int(queryInt64(r, "offset", 0))
	logs, total, err := h.logs.ListByOrganization(r.Context(), orgID, repository.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, envelope{"backupLogs": logs, "total": total})
}

// RetentionPreview handles GET /organizations/:orgId/schedules/:id/retention
// — a read-only projection of which successful runs retention enforcement
// would delete next, without deleting anything.
func (h *BackupHandler) RetentionPreview(w http.ResponseWriter, r *http.Request) {
	orgID, okOrg := pathUUID(w, r, "orgId")
	if !okOrg {
		return
	}
	scheduleID, okSched := pathUUID(w, r, "id")
	if !okSched {
		return
	}
	user := currentUser(r)
	schedule, err := h.schedules.Get(r.Context(), user.ID, orgID, scheduleID)
	if err != nil {
		writeError(w, err)
		return
	}
	successful, err := h.logs.ListSuccessfulByScheduleDesc(r.Context(), scheduleID)
	if err != nil {
		writeError(w, err)
		return
	}

	var kept, pruned []any
	for i, log := range successful {
		if i < schedule.RetentionCount {
			kept = append(kept, log)
		} else {
			pruned = append(pruned, log)
		}
	}
	ok(w, envelope{"retentionCount": schedule.RetentionCount, "kept": kept, "wouldDelete": pruned})
}
