package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/vaultkeep-io/vaultkeep/internal/identity"
)

// AuthHandler serves the /auth/* endpoints of spec.md §6.1.
type AuthHandler struct {
	identity *identity.Service
	logger   *zap.Logger
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(identitySvc *identity.Service, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{identity: identitySvc, logger: logger.Named("api.auth")}
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	result, err := h.identity.Register(r.Context(), req.Email, req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	// The verification token is normally handed to the mail side-channel
	// (out of scope per spec.md §1); it is echoed here only so a caller
	// with no mail transport configured can still complete the flow.
	created(w, envelope{"userId": result.UserID, "verificationToken": result.Token})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	token, err := h.identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, envelope{"token": token})
}

// VerifyEmail handles POST /auth/verify/:token.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := chiURLParam(r, "token")
	if err := h.identity.VerifyEmail(r.Context(), token); err != nil {
		writeError(w, err)
		return
	}
	ok(w, nil)
}

// Logout handles POST /auth/logout. Requires authentication so the
// bearer token being revoked is the one on the request, not an arbitrary
// string supplied in the body.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if err := h.identity.Logout(r.Context(), token); err != nil {
		writeError(w, err)
		return
	}
	ok(w, nil)
}

// Me handles GET /auth/me, returning the caller's own profile.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	ok(w, envelope{"user": envelope{
		"id":            user.ID,
		"email":         user.Email,
		"username":      user.Username,
		"emailVerified": user.EmailVerified,
		"createdAt":     user.CreatedAt,
	}})
}
