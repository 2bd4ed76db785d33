// Package apperr defines the error taxonomy shared by every layer of the
// backup engine. Stores, the vault, the registry, and the executor all
// return these sentinels unchanged; only the HTTP layer (internal/api)
// translates them into wire responses.
package apperr

import "errors"

// Sentinel errors. Callers compare with errors.Is, never string matching.
var (
	// AuthFailed means the caller's identity could not be established:
	// unknown email, wrong password, or a session token that does not
	// resolve to a live session.
	AuthFailed = errors.New("apperr: authentication failed")

	// EmailNotVerified means the identity is known but has not completed
	// email verification yet.
	EmailNotVerified = errors.New("apperr: email not verified")

	// PermissionDenied means identity is established but the permission
	// predicate failed. Never reveals whether the failure was a missing
	// row or a wrong role — that distinction is not observable outside
	// internal/tenancy.
	PermissionDenied = errors.New("apperr: permission denied")

	// NotFound means the entity does not exist, or exists outside the
	// caller's visible scope (the two are indistinguishable by design).
	NotFound = errors.New("apperr: not found")

	// ValidationError means the shape of the input itself is wrong —
	// a malformed time string, an empty days set, and so on.
	ValidationError = errors.New("apperr: validation error")

	// DecryptionFailed means the vault could not recover a plaintext
	// from an encrypted blob. Treated as PermissionDenied at the HTTP
	// boundary (spec.md §7) since it typically stems from a tampered or
	// foreign master key rather than a transient fault.
	DecryptionFailed = errors.New("apperr: decryption failed")

	// Unreachable means a remote system (MongoDB or the object store)
	// did not answer. Retryable.
	Unreachable = errors.New("apperr: remote system unreachable")

	// Timeout means a remote call exceeded its deadline. Retryable.
	Timeout = errors.New("apperr: operation timed out")

	// Cancelled means an execution was aborted by shutdown or an
	// explicit user request.
	Cancelled = errors.New("apperr: cancelled")

	// Conflict means an insert or update violated a uniqueness
	// constraint (duplicate email, duplicate membership, etc).
	Conflict = errors.New("apperr: conflict")
)

// Kind returns a short machine-readable label for err, used by the HTTP
// layer to pick a status code without importing every package's sentinels
// directly. Returns "internal" for any error not in the taxonomy.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, AuthFailed):
		return "auth_failed"
	case errors.Is(err, EmailNotVerified):
		return "email_not_verified"
	case errors.Is(err, PermissionDenied), errors.Is(err, DecryptionFailed):
		return "permission_denied"
	case errors.Is(err, NotFound):
		return "not_found"
	case errors.Is(err, ValidationError):
		return "validation_error"
	case errors.Is(err, Unreachable):
		return "unreachable"
	case errors.Is(err, Timeout):
		return "timeout"
	case errors.Is(err, Cancelled):
		return "cancelled"
	case errors.Is(err, Conflict):
		return "conflict"
	default:
		return "internal"
	}
}
