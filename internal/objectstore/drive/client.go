// Package drive is one concrete objectstore.Store implementation, modeled
// on a Google-Drive-shaped OAuth2 REST API. It owns the full OAuth2
// authorization-code lifecycle (golang.org/x/oauth2) and the upload/delete
// calls; which cloud provider answers those HTTP requests is an
// implementation detail the rest of the engine never sees.
package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/vaultkeep-io/vaultkeep/internal/apperr"
	"github.com/vaultkeep-io/vaultkeep/internal/db"
	"github.com/vaultkeep-io/vaultkeep/internal/objectstore"
	"github.com/vaultkeep-io/vaultkeep/internal/repository"
	"github.com/vaultkeep-io/vaultkeep/internal/vault"
)

const (
	uploadTimeout = 10 * time.Minute
	apiBase       = "https://www.googleapis.com/drive/v3"
	uploadBase    = "https://www.googleapis.com/upload/drive/v3"
)

// Client implements objectstore.Store against a Drive-shaped API.
type Client struct {
	oauthCfg *oauth2.Config
	tokens   repository.OAuthTokenRepository
	httpc    *http.Client

	// refreshMu serializes token refreshes per user, per spec.md §5's
	// "refresh is serialized per user to avoid duplicate refresh calls".
	refreshMu sync.Map // userID string -> *sync.Mutex
}

// New constructs a Client. oauthCfg must have ClientID/ClientSecret/
// RedirectURL/Endpoint/Scopes already populated from configuration.
func New(oauthCfg *oauth2.Config, tokens repository.OAuthTokenRepository) *Client {
	return &Client{
		oauthCfg: oauthCfg,
		tokens:   tokens,
		httpc:    &http.Client{Timeout: uploadTimeout},
	}
}

const providerName = "drive"

func (c *Client) GetAuthURL(ctx context.Context, userID string) (string, error) {
	return c.oauthCfg.AuthCodeURL(userID, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

func (c *Client) FinishOAuth(ctx context.Context, userID, code string) error {
	tok, err := c.oauthCfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("%w: exchanging oauth code: %v", apperr.Unreachable, err)
	}

	uid, err := parseUUID(userID)
	if err != nil {
		return err
	}
	// EncryptedAccessToken/EncryptedRefreshToken hold plaintext in memory;
	// vault.EncryptedString encrypts on write and decrypts on read via its
	// driver.Valuer/sql.Scanner implementation, so the gorm layer never sees
	// plaintext tokens.
	row := &db.OAuthToken{
		UserID:                uid,
		Provider:              providerName,
		EncryptedAccessToken:  vault.EncryptedString(tok.AccessToken),
		EncryptedRefreshToken: vault.EncryptedString(tok.RefreshToken),
		ExpiresAt:             tok.Expiry,
	}
	if err := c.tokens.Upsert(ctx, row); err != nil {
		return fmt.Errorf("drive: persisting oauth token: %w", err)
	}
	return nil
}

func (c *Client) IsConnected(ctx context.Context, userID string) (bool, error) {
	uid, err := parseUUID(userID)
	if err != nil {
		return false, err
	}
	_, err = c.tokens.Get(ctx, uid, providerName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("drive: checking connection: %w", err)
	}
	return true, nil
}

func (c *Client) Disconnect(ctx context.Context, userID string) error {
	uid, err := parseUUID(userID)
	if err != nil {
		return err
	}
	if err := c.tokens.Delete(ctx, uid, providerName); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("drive: disconnecting: %w", err)
	}
	return nil
}

// tokenFor returns a live access token for userID, refreshing it if
// expired. Refreshes are serialized per user so two concurrent backups
// against the same account never race to refresh the same refresh token.
func (c *Client) tokenFor(ctx context.Context, userID string) (string, error) {
	muAny, _ := c.refreshMu.LoadOrStore(userID, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	uid, err := parseUUID(userID)
	if err != nil {
		return "", err
	}
	row, err := c.tokens.Get(ctx, uid, providerName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", fmt.Errorf("%w: object store not connected", apperr.PermissionDenied)
		}
		return "", fmt.Errorf("drive: loading oauth token: %w", err)
	}

	if time.Now().Before(row.ExpiresAt.Add(-30 * time.Second)) {
		return string(row.EncryptedAccessToken), nil
	}

	refreshToken := string(row.EncryptedRefreshToken)
	src := c.oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	fresh, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("%w: refreshing oauth token: %v", apperr.Unreachable, err)
	}

	row.EncryptedAccessToken = vault.EncryptedString(fresh.AccessToken)
	row.ExpiresAt = fresh.Expiry
	if fresh.RefreshToken != "" {
		row.EncryptedRefreshToken = vault.EncryptedString(fresh.RefreshToken)
	}
	if err := c.tokens.Upsert(ctx, row); err != nil {
		return "", fmt.Errorf("drive: persisting refreshed token: %w", err)
	}
	return fresh.AccessToken, nil
}

func (c *Client) UploadFile(ctx context.Context, userID string, data []byte, fileName, mimeType, folderPath string) (result objectstore.UploadResult, err error) {
	token, err := c.tokenFor(ctx, userID)
	if err != nil {
		return result, err
	}

	folderID, err := c.ensureFolderPath(ctx, token, folderPath)
	if err != nil {
		return result, err
	}

	meta := map[string]any{"name": fileName, "parents": []string{folderID}}
	metaJSON, _ := json.Marshal(meta)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	metaPart, _ := writer.CreatePart(map[string][]string{"Content-Type": {"application/json; charset=UTF-8"}})
	_, _ = metaPart.Write(metaJSON)
	mediaPart, _ := writer.CreatePart(map[string][]string{"Content-Type": {mimeType}})
	_, _ = mediaPart.Write(data)
	_ = writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadBase+"/files?uploadType=multipart&fields=id,webViewLink", &body)
	if err != nil {
		return result, fmt.Errorf("drive: building upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return result, fmt.Errorf("%w: uploading file: %v", apperr.Unreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return result, fmt.Errorf("%w: upload failed with status %d: %s", apperr.Unreachable, resp.StatusCode, string(b))
	}

	var parsed struct {
		ID          string `json:"id"`
		WebViewLink string `json:"webViewLink"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return result, fmt.Errorf("drive: decoding upload response: %w", err)
	}
	result.FileID = parsed.ID
	result.WebViewLink = parsed.WebViewLink
	return result, nil
}

func (c *Client) DeleteFile(ctx context.Context, userID, fileID string) error {
	token, err := c.tokenFor(ctx, userID)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, apiBase+"/files/"+fileID, nil)
	if err != nil {
		return fmt.Errorf("drive: building delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: deleting file: %v", apperr.Unreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("%w: delete failed with status %d", apperr.Unreachable, resp.StatusCode)
	}
	return nil
}

// ensureFolderPath resolves a "/"-separated logical path to a Drive folder
// id, creating any missing segment idempotently (by name-under-parent
// lookup before create, mirroring find-or-create patterns elsewhere in the
// retrieved pack).
func (c *Client) ensureFolderPath(ctx context.Context, token, folderPath string) (string, error) {
	parent := "root"
	for _, segment := range strings.Split(strings.Trim(folderPath, "/"), "/") {
		if segment == "" {
			continue
		}
		id, err := c.findOrCreateFolder(ctx, token, parent, segment)
		if err != nil {
			return "", err
		}
		parent = id
	}
	return parent, nil
}

func (c *Client) findOrCreateFolder(ctx context.Context, token, parentID, name string) (string, error) {
	query := fmt.Sprintf("name = %q and mimeType = 'application/vnd.google-apps.folder' and %q in parents and trashed = false", name, parentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiBase+"/files?q="+urlEscape(query)+"&fields=files(id)", nil)
	if err != nil {
		return "", fmt.Errorf("drive: building folder lookup request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: looking up folder: %v", apperr.Unreachable, err)
	}
	defer resp.Body.Close()

	var found struct {
		Files []struct{ ID string `json:"id"` } `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&found); err == nil && len(found.Files) > 0 {
		return found.Files[0].ID, nil
	}

	meta := map[string]any{
		"name":     name,
		"mimeType": "application/vnd.google-apps.folder",
		"parents":  []string{parentID},
	}
	metaJSON, _ := json.Marshal(meta)
	createReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBase+"/files?fields=id", bytes.NewReader(metaJSON))
	if err != nil {
		return "", fmt.Errorf("drive: building folder create request: %w", err)
	}
	createReq.Header.Set("Authorization", "Bearer "+token)
	createReq.Header.Set("Content-Type", "application/json")
	createResp, err := c.httpc.Do(createReq)
	if err != nil {
		return "", fmt.Errorf("%w: creating folder: %v", apperr.Unreachable, err)
	}
	defer createResp.Body.Close()

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(createResp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("drive: decoding folder create response: %w", err)
	}
	return created.ID, nil
}

func parseUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("%w: invalid user id", apperr.ValidationError)
	}
	return id, nil
}

func urlEscape(s string) string {
	replacer := strings.NewReplacer(" ", "%20", "'", "%27", "\"", "%22")
	return replacer.Replace(s)
}
