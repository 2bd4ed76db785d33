// Package objectstore defines the §6.2 object-store collaborator contract.
// The engine depends only on this interface; internal/objectstore/drive
// provides one concrete OAuth2-token-driven implementation standing in for
// the real cloud-storage SDK that spec.md §1 places out of scope.
package objectstore

import "context"

// UploadResult is returned by UploadFile on success.
type UploadResult struct {
	FileID      string
	WebViewLink string
}

// Store is the object-store collaborator contract every BackupExecutor
// destination ultimately calls through.
type Store interface {
	// UploadFile uploads bytes as fileName with the given mimeType under
	// folderPath (a "/"-separated logical path; missing folders are
	// created idempotently), on behalf of userID's connected account.
	UploadFile(ctx context.Context, userID string, data []byte, fileName, mimeType, folderPath string) (UploadResult, error)

	// DeleteFile removes a previously uploaded object by its store-assigned
	// id. Best-effort from the executor's perspective — see spec.md §4.7
	// step 11.
	DeleteFile(ctx context.Context, userID, fileID string) error

	// GetAuthURL returns the OAuth2 authorization URL userID should be
	// redirected to in order to connect their account.
	GetAuthURL(ctx context.Context, userID string) (string, error)

	// FinishOAuth completes the authorization-code exchange and persists
	// the resulting token pair.
	FinishOAuth(ctx context.Context, userID, code string) error

	// IsConnected reports whether userID has a live OAuth grant.
	IsConnected(ctx context.Context, userID string) (bool, error)

	// Disconnect deletes userID's stored OAuth grant; the grant is not
	// revoked at the provider.
	Disconnect(ctx context.Context, userID string) error
}
