package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/vaultkeep-io/vaultkeep/internal/mongoregistry"
)

// ConnectionHandler serves the /organizations/:orgId/connections/* surface.
type ConnectionHandler struct {
	registry *mongoregistry.Registry
	logger   *zap.Logger
}

// NewConnectionHandler constructs a ConnectionHandler.
func NewConnectionHandler(registry *mongoregistry.Registry, logger *zap.Logger) *ConnectionHandler {
	return &ConnectionHandler{registry: registry, logger: logger.Named("api.connections")}
}

type createConnectionRequest struct {
	DisplayName      string `json:"displayName"`
	ConnectionString string `json:"connectionString"`
}

// Create handles POST /organizations/:orgId/connections.
func (h *ConnectionHandler) Create(w http.ResponseWriter, r *http.Request) {
	orgID, okOrg := pathUUID(w, r, "orgId")
	if !okOrg {
		return
	}
	var req createConnectionRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	user := currentUser(r)
	conn, err := h.registry.Create(r.Context(), user.ID, orgID, req.DisplayName, req.ConnectionString)
	if err != nil {
		writeError(w, err)
		return
	}
	created(w, envelope{"connection": conn})
}

// Update handles PUT /organizations/:orgId/connections/:id.
func (h *ConnectionHandler) Update(w http.ResponseWriter, r *http.Request) {
	orgID, okOrg := pathUUID(w, r, "orgId")
	if !okOrg {
		return
	}
	connID, okConn := pathUUID(w, r, "id")
	if !okConn {
		return
	}
	var req createConnectionRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	user := currentUser(r)
	conn, err := h.registry.Update(r.Context(), user.ID, orgID, connID, req.DisplayName, req.ConnectionString)
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, envelope{"connection": conn})
}

// Delete handles DELETE /organizations/:orgId/connections/:id.
func (h *ConnectionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	orgID, okOrg := pathUUID(w, r, "orgId")
	if !okOrg {
		return
	}
	connID, okConn := pathUUID(w, r, "id")
	if !okConn {
		return
	}
	user := currentUser(r)
	if err := h.registry.Delete(r.Context(), user.ID, orgID, connID); err != nil {
		writeError(w, err)
		return
	}
	ok(w, nil)
}

// List handles GET /organizations/:orgId/connections.
func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, okOrg := pathUUID(w, r, "orgId")
	if !okOrg {
		return
	}
	user := currentUser(r)
	conns, err := h.registry.List(r.Context(), user.ID, orgID)
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, envelope{"connections": conns})
}

// Test handles POST /organizations/:orgId/connections/:id/test — the
// supplemented liveness probe of SPEC_FULL.md, returning success/failure
// without mutating anything.
func (h *ConnectionHandler) Test(w http.ResponseWriter, r *http.Request) {
	orgID, okOrg := pathUUID(w, r, "orgId")
	if !okOrg {
		return
	}
	connID, okConn := pathUUID(w, r, "id")
	if !okConn {
		return
	}
	user := currentUser(r)
	if err := h.registry.TestConnection(r.Context(), user.ID, orgID, connID); err != nil {
		writeError(w, err)
		return
	}
	ok(w, envelope{"reachable": true})
}
