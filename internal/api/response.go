package api

import (
	"encoding/json"
	"net/http"

	"github.com/vaultkeep-io/vaultkeep/internal/apperr"
)

// envelope is spec.md §6.1's wire shape: errors are
// {success:false, error:string}; success responses include success:true
// alongside whatever payload fields the endpoint carries.
type envelope map[string]any

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func ok(w http.ResponseWriter, fields envelope) {
	if fields == nil {
		fields = envelope{}
	}
	fields["success"] = true
	writeJSON(w, http.StatusOK, fields)
}

func created(w http.ResponseWriter, fields envelope) {
	if fields == nil {
		fields = envelope{}
	}
	fields["success"] = true
	writeJSON(w, http.StatusCreated, fields)
}

// writeError translates the apperr taxonomy (spec.md §7) into a stable
// HTTP status and an envelope carrying the error message verbatim.
// PermissionDenied (including DecryptionFailed, per §7) never reveals
// which predicate failed or whether a row was missing.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.Kind(err) {
	case "auth_failed":
		status = http.StatusUnauthorized
	case "email_not_verified":
		status = http.StatusForbidden
	case "permission_denied":
		status = http.StatusForbidden
	case "not_found":
		status = http.StatusNotFound
	case "validation_error":
		status = http.StatusBadRequest
	case "conflict":
		status = http.StatusConflict
	case "unreachable", "timeout":
		status = http.StatusBadGateway
	case "cancelled":
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, envelope{"success": false, "error": err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, envelope{"success": false, "error": msg})
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
