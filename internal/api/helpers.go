package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vaultkeep-io/vaultkeep/internal/apperr"
)

func chiURLParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}

func bearerToken(r *http.Request) string {
	token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return token
}

// pathUUID parses the named chi URL parameter as a uuid.UUID, writing a
// ValidationError response and returning ok=false on failure.
func pathUUID(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, key))
	if err != nil {
		writeError(w, apperr.ValidationError)
		return uuid.Nil, false
	}
	return id, true
}

// pathUUIDFromValue parses a uuid.UUID out of a decoded request-body field,
// writing a ValidationError response and returning ok=false on failure.
func pathUUIDFromValue(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, apperr.ValidationError)
		return uuid.Nil, false
	}
	return id, true
}
