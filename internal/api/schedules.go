package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/vaultkeep-io/vaultkeep/internal/schedulestore"
)

// ScheduleHandler serves the /organizations/:orgId/schedules/* surface.
type ScheduleHandler struct {
	schedules *schedulestore.Store
	logger    *zap.Logger
}

// NewScheduleHandler constructs a ScheduleHandler.
func NewScheduleHandler(schedules *schedulestore.Store, logger *zap.Logger) *ScheduleHandler {
	return &ScheduleHandler{schedules: schedules, logger: logger.Named("api.schedules")}
}

type scheduleRequest struct {
	ConnectionID      string         `json:"connectionId"`
	DatabaseName      string         `json:"databaseName"`
	Collections       []string       `json:"collections"`
	DestinationType   string         `json:"destinationType"`
	DestinationConfig map[string]any `json:"destinationConfig"`
	Days              []int          `json:"days"`
	Times             []string       `json:"times"`
	Timezone          string         `json:"timezone"`
	RetentionCount    int            `json:"retentionCount"`
}

func (req scheduleRequest) toSpec(w http.ResponseWriter, r *http.Request) (schedulestore.Spec, bool) {
	connID, okConn := pathUUIDFromValue(w, req.ConnectionID)
	if !okConn {
		return schedulestore.Spec{}, false
	}
	return schedulestore.Spec{
		ConnectionID:      connID,
		DatabaseName:      req.DatabaseName,
		Collections:       req.Collections,
		DestinationType:   req.DestinationType,
		DestinationConfig: req.DestinationConfig,
		Days:              req.Days,
		Times:             req.Times,
		Timezone:          req.Timezone,
		RetentionCount:    req.RetentionCount,
	}, true
}

// Create handles POST /organizations/:orgId/schedules.
func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	orgID, okOrg := pathUUID(w, r, "orgId")
	if !okOrg {
		return
	}
	var req scheduleRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	spec, okSpec := req.toSpec(w, r)
	if !okSpec {
		return
	}
	user := currentUser(r)
	schedule, err := h.schedules.Create(r.Context(), user.ID, orgID, spec)
	if err != nil {
		writeError(w, err)
		return
	}
	created(w, envelope{"schedule": schedule})
}

// Update handles PUT /organizations/:orgId/schedules/:id.
func (h *ScheduleHandler) Update(w http.ResponseWriter, r *http.Request) {
	orgID, okOrg := pathUUID(w, r, "orgId")
	if !okOrg {
		return
	}
	scheduleID, okSched := pathUUID(w, r, "id")
	if !okSched {
		return
	}
	var req scheduleRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	spec, okSpec := req.toSpec(w, r)
	if !okSpec {
		return
	}
	user := currentUser(r)
	schedule, err := h.schedules.Update(r.Context(), user.ID, orgID, scheduleID, spec)
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, envelope{"schedule": schedule})
}

type setEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// SetEnabled handles PUT /organizations/:orgId/schedules/:id/enabled.
func (h *ScheduleHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	orgID, okOrg := pathUUID(w, r, "orgId")
	if !okOrg {
		return
	}
	scheduleID, okSched := pathUUID(w, r, "id")
	if !okSched {
		return
	}
	var req setEnabledRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	user := currentUser(r)
	schedule, err := h.schedules.SetEnabled(r.Context(), user.ID, orgID, scheduleID, req.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, envelope{"schedule": schedule})
}

// Delete handles DELETE /organizations/:orgId/schedules/:id.
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	orgID, okOrg := pathUUID(w, r, "orgId")
	if !okOrg {
		return
	}
	scheduleID, okSched := pathUUID(w, r, "id")
	if !okSched {
		return
	}
	user := currentUser(r)
	if err := h.schedules.Delete(r.Context(), user.ID, orgID, scheduleID); err != nil {
		writeError(w, err)
		return
	}
	ok(w, nil)
}

// List handles GET /organizations/:orgId/schedules, including each
// schedule's most recent run.
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, okOrg := pathUUID(w, r, "orgId")
	if !okOrg {
		return
	}
	user := currentUser(r)
	schedules, err := h.schedules.List(r.Context(), user.ID, orgID)
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, envelope{"schedules": schedules})
}

// Get handles GET /organizations/:orgId/schedules/:id.
func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
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
	ok(w, envelope{"schedule": schedule})
}
