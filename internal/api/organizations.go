package api

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaultkeep-io/vaultkeep/internal/apperr"
	"github.com/vaultkeep-io/vaultkeep/internal/repository"
	"github.com/vaultkeep-io/vaultkeep/internal/tenancy"
)

// OrganizationHandler serves the /organizations/* endpoints of spec.md
// §6.1. Membership listing goes straight to the repository layer since
// tenancy.Store's own surface only exposes ListOrganizationsForUser (the
// caller-scoped view); the admin-gated, org-scoped view used here is
// authorized by the same Predicates the Store itself consults.
type OrganizationHandler struct {
	tenancy     *tenancy.Store
	memberships repository.MembershipRepository
	logger      *zap.Logger
}

// NewOrganizationHandler constructs an OrganizationHandler.
func NewOrganizationHandler(t *tenancy.Store, memberships repository.MembershipRepository, logger *zap.Logger) *OrganizationHandler {
	return &OrganizationHandler{tenancy: t, memberships: memberships, logger: logger.Named("api.organizations")}
}

type createOrgRequest struct {
	Name           string `json:"name"`
	BackupPassword string `json:"backupPassword"`
}

// Create handles POST /organizations.
func (h *OrganizationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOrgRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	user := currentUser(r)
	id, err := h.tenancy.CreateOrganization(r.Context(), user.ID, req.Name, req.BackupPassword)
	if err != nil {
		writeError(w, err)
		return
	}
	created(w, envelope{"organizationId": id})
}

// List handles GET /organizations: every organization the caller belongs
// to, with their role.
func (h *OrganizationHandler) List(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	orgs, err := h.tenancy.ListOrganizationsForUser(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, envelope{"organizations": orgs})
}

// Delete handles DELETE /organizations/:id.
func (h *OrganizationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	orgID, okID := pathUUID(w, r, "id")
	if !okID {
		return
	}
	user := currentUser(r)
	if err := h.tenancy.DeleteOrganization(r.Context(), user.ID, orgID); err != nil {
		writeError(w, err)
		return
	}
	ok(w, nil)
}

type resetBackupPasswordRequest struct {
	NewPassword string `json:"newPassword"`
}

// ResetBackupPassword handles PUT /organizations/:id/backup-password.
func (h *OrganizationHandler) ResetBackupPassword(w http.ResponseWriter, r *http.Request) {
	orgID, okID := pathUUID(w, r, "id")
	if !okID {
		return
	}
	var req resetBackupPasswordRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	user := currentUser(r)
	if err := h.tenancy.ResetBackupPassword(r.Context(), user.ID, orgID, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	ok(w, nil)
}

type inviteRequest struct {
	Email string `json:"email"`
}

// Invite handles POST /organizations/:id/members.
func (h *OrganizationHandler) Invite(w http.ResponseWriter, r *http.Request) {
	orgID, okID := pathUUID(w, r, "id")
	if !okID {
		return
	}
	var req inviteRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	user := currentUser(r)
	token, err := h.tenancy.Invite(r.Context(), user.ID, orgID, req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	created(w, envelope{"invitationToken": token})
}

// ListMembers handles GET /organizations/:id/members. Any member may list
// (so a user can see their own org roster); only an admin-gated mutation
// changes anything.
func (h *OrganizationHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	orgID, okID := pathUUID(w, r, "id")
	if !okID {
		return
	}
	user := currentUser(r)
	member, err := h.tenancy.Predicates().IsMember(r.Context(), user.ID, orgID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !member {
		writeError(w, apperr.PermissionDenied)
		return
	}
	members, err := h.memberships.ListByOrganization(r.Context(), orgID)
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, envelope{"members": members})
}

type setRoleRequest struct {
	Role string `json:"role"`
}

// SetRole handles PUT /organizations/:id/members/:userId.
func (h *OrganizationHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	orgID, okID := pathUUID(w, r, "id")
	if !okID {
		return
	}
	targetID, okTarget := pathUUID(w, r, "userId")
	if !okTarget {
		return
	}
	var req setRoleRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	user := currentUser(r)
	if err := h.tenancy.SetRole(r.Context(), user.ID, orgID, targetID, req.Role); err != nil {
		writeError(w, err)
		return
	}
	ok(w, nil)
}

// RemoveMember handles DELETE /organizations/:id/members/:userId.
func (h *OrganizationHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	orgID, okID := pathUUID(w, r, "id")
	if !okID {
		return
	}
	targetID, okTarget := pathUUID(w, r, "userId")
	if !okTarget {
		return
	}
	user := currentUser(r)
	if err := h.tenancy.RemoveMember(r.Context(), user.ID, orgID, targetID); err != nil {
		writeError(w, err)
		return
	}
	ok(w, nil)
}

// AcceptInvitation handles POST /organizations/:id/invitations/:token. The
// :id path segment is accepted for URL symmetry with the rest of the
// /organizations/:id/* surface but not otherwise consulted — the token
// alone identifies the invitation and its organization.
func (h *OrganizationHandler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	token := chiURLParam(r, "token")
	user := currentUser(r)
	if err := h.tenancy.AcceptInvitation(r.Context(), user.ID, token); err != nil {
		writeError(w, err)
		return
	}
	ok(w, nil)
}

type grantConnectionRequest struct {
	MemberID     uuid.UUID `json:"memberId"`
	ConnectionID uuid.UUID `json:"connectionId"`
}

// GrantConnection handles POST /organizations/:id/connection-permissions.
func (h *OrganizationHandler) GrantConnection(w http.ResponseWriter, r *http.Request) {
	orgID, okID := pathUUID(w, r, "id")
	if !okID {
		return
	}
	var req grantConnectionRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	user := currentUser(r)
	if err := h.tenancy.GrantConnection(r.Context(), user.ID, orgID, req.MemberID, req.ConnectionID); err != nil {
		writeError(w, err)
		return
	}
	ok(w, nil)
}

// RevokeConnection handles DELETE /organizations/:id/connection-permissions.
func (h *OrganizationHandler) RevokeConnection(w http.ResponseWriter, r *http.Request) {
	orgID, okID := pathUUID(w, r, "id")
	if !okID {
		return
	}
	var req grantConnectionRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	user := currentUser(r)
	if err := h.tenancy.RevokeConnection(r.Context(), user.ID, orgID, req.MemberID, req.ConnectionID); err != nil {
		writeError(w, err)
		return
	}
	ok(w, nil)
}
