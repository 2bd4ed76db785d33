package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/vaultkeep-io/vaultkeep/internal/objectstore"
)

// ObjectStoreHandler serves the /object-store/* OAuth connection lifecycle
// (spec.md §6.2) a backup destination's account goes through before the
// executor can upload to it.
type ObjectStoreHandler struct {
	store  objectstore.Store
	logger *zap.Logger
}

// NewObjectStoreHandler constructs an ObjectStoreHandler.
func NewObjectStoreHandler(store objectstore.Store, logger *zap.Logger) *ObjectStoreHandler {
	return &ObjectStoreHandler{store: store, logger: logger.Named("api.objectstore")}
}

// AuthURL handles GET /object-store/auth-url.
func (h *ObjectStoreHandler) AuthURL(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	url, err := h.store.GetAuthURL(r.Context(), user.ID.String())
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, envelope{"authUrl": url})
}

type finishOAuthRequest struct {
	Code string `json:"code"`
}

// Callback handles POST /object-store/callback.
func (h *ObjectStoreHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var req finishOAuthRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	user := currentUser(r)
	if err := h.store.FinishOAuth(r.Context(), user.ID.String(), req.Code); err != nil {
		writeError(w, err)
		return
	}
	ok(w, nil)
}

// Status handles GET /object-store/status.
func (h *ObjectStoreHandler) Status(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	connected, err := h.store.IsConnected(r.Context(), user.ID.String())
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, envelope{"connected": connected})
}

// Disconnect handles DELETE /object-store/connection.
func (h *ObjectStoreHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if err := h.store.Disconnect(r.Context(), user.ID.String()); err != nil {
		writeError(w, err)
		return
	}
	ok(w, nil)
}
