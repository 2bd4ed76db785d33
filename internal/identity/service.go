// Package identity implements C2 IdentityStore: local email/password
// registration, login, one-shot email verification, and session
// resolution. It is the only package that mints or validates session
// tokens; every other package that needs "who is calling" goes through
// Service.CurrentUser.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaultkeep-io/vaultkeep/internal/apperr"
	"github.com/vaultkeep-io/vaultkeep/internal/db"
	"github.com/vaultkeep-io/vaultkeep/internal/repository"
	"github.com/vaultkeep-io/vaultkeep/internal/vault"
)

const (
	// verificationTokenBytes is the length of the random email-verification
	// token before hex encoding.
	verificationTokenBytes = 32

	// verificationTTL bounds how long a one-shot email-verification token
	// remains usable.
	verificationTTL = 24 * time.Hour
)

// Service is the entry point for every identity operation. The REST API
// layer depends on Service, never on the repositories or JWTManager
// directly.
type Service struct {
	users         repository.UserRepository
	sessions      repository.SessionRepository
	verifications repository.EmailVerificationRepository
	jwt           *JWTManager
	sessionTTL    time.Duration
	logger        *zap.Logger
}

// New constructs a Service. sessionTTL is spec.md §6.5's configurable
// sessionTtl (default 7 days).
func New(users repository.UserRepository, sessions repository.SessionRepository, verifications repository.EmailVerificationRepository, jwt *JWTManager, sessionTTL time.Duration, logger *zap.Logger) *Service {
	return &Service{
		users:         users,
		sessions:      sessions,
		verifications: verifications,
		jwt:           jwt,
		sessionTTL:    sessionTTL,
		logger:        logger.Named("identity"),
	}
}

// RegisterResult carries the new user's id plus the one-shot verification
// token. The token is surfaced to the mail side-channel (out of scope per
// spec.md §1) rather than returned to the caller over HTTP in production,
// but the service hands it back here so cmd/vaultkeep-seed and tests can
// drive verification without a mail transport.
type RegisterResult struct {
	UserID uuid.UUID
	Token  string
}

// Register creates a new User with emailVerified=false and mints a
// one-shot verification token. Email is lowercased before storage;
// username, if present, must be globally unique.
func (s *Service) Register(ctx context.Context, email, username, password string) (*RegisterResult, error) {
	if len(password) < 6 {
		return nil, fmt.Errorf("%w: password must be at least 6 characters", apperr.ValidationError)
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", apperr.ValidationError)
	}

	hash, err := vault.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("identity: hashing password: %w", err)
	}

	user := &db.User{
		Email:        email,
		Username:     strings.TrimSpace(username),
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: email or username already registered", apperr.Conflict)
		}
		return nil, fmt.Errorf("identity: creating user: %w", err)
	}

	token, err := s.issueVerificationToken(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID.String()))
	return &RegisterResult{UserID: user.ID, Token: token}, nil
}

func (s *Service) issueVerificationToken(ctx context.Context, userID uuid.UUID) (string, error) {
	raw := make([]byte, verificationTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("identity: generating verification token: %w", err)
	}
	token := hex.EncodeToString(raw)

	ev := &db.EmailVerification{
		UserID:    userID,
		Token:     token,
		ExpiresAt: time.Now().Add(verificationTTL),
	}
	if err := s.verifications.Create(ctx, ev); err != nil {
		return "", fmt.Errorf("identity: storing verification token: %w", err)
	}
	return token, nil
}

// VerifyEmail consumes a one-shot verification token, flipping the owning
// User's EmailVerified flag. The token is deleted on success whether or not
// other verification tokens exist for the user — only one is ever live in
// practice because Register issues exactly one.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	ev, err := s.verifications.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: verification token", apperr.NotFound)
		}
		return fmt.Errorf("identity: looking up verification token: %w", err)
	}
	if time.Now().After(ev.ExpiresAt) {
		return fmt.Errorf("%w: verification token expired", apperr.ValidationError)
	}

	user, err := s.users.GetByID(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("identity: loading user for verification: %w", err)
	}
	user.EmailVerified = true
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("identity: marking email verified: %w", err)
	}

	if err := s.verifications.Delete(ctx, ev.ID); err != nil {
		s.logger.Warn("failed to delete consumed verification token", zap.Error(err))
	}
	return nil
}

// Login authenticates email+password and mints a fresh session token.
// Returns apperr.AuthFailed for an unknown email or wrong password, and
// apperr.EmailNotVerified for a known, correctly-authenticated account that
// has not completed verification yet — these are distinguished, unlike
// PermissionDenied elsewhere, because the caller has already proven
// knowledge of the password.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", apperr.AuthFailed
		}
		return "", fmt.Errorf("identity: loading user by email: %w", err)
	}

	ok, err := vault.VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		return "", apperr.AuthFailed
	}
	if !user.EmailVerified {
		return "", apperr.EmailNotVerified
	}

	return s.issueSession(ctx, user.ID)
}

func (s *Service) issueSession(ctx context.Context, userID uuid.UUID) (string, error) {
	expiresAt := time.Now().Add(s.sessionTTL)
	token, err := s.jwt.Sign(userID.String(), expiresAt)
	if err != nil {
		return "", fmt.Errorf("identity: signing session: %w", err)
	}
	session := &db.Session{
		Token:     token,
		UserID:    userID,
		ExpiresAt: expiresAt,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return "", fmt.Errorf("identity: persisting session: %w", err)
	}
	return token, nil
}

// CurrentUser resolves a bearer session token to its owning User. It
// verifies the JWT signature and expiry first (cheap, no DB round trip for
// a forged or expired token) then confirms the session row still exists —
// a deleted row (explicit logout, or DeleteExpired housekeeping) makes an
// otherwise-valid token unresolvable. Returns apperr.AuthFailed on any
// failure; the distinction between "bad token" and "unknown user" is not
// observable by design.
func (s *Service) CurrentUser(ctx context.Context, sessionToken string) (*db.User, error) {
	claims, err := s.jwt.Verify(sessionToken)
	if err != nil {
		return nil, apperr.AuthFailed
	}

	session, err := s.sessions.GetByToken(ctx, sessionToken)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.AuthFailed
		}
		return nil, fmt.Errorf("identity: loading session: %w", err)
	}
	if time.Now().After(session.ExpiresAt) {
		return nil, apperr.AuthFailed
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, apperr.AuthFailed
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.AuthFailed
		}
		return nil, fmt.Errorf("identity: loading current user: %w", err)
	}
	return user, nil
}

// Logout deletes the session row backing sessionToken. The JWT itself
// remains structurally valid until its natural expiry, but CurrentUser
// will no longer resolve it once the row is gone.
func (s *Service) Logout(ctx context.Context, sessionToken string) error {
	if err := s.sessions.DeleteByToken(ctx, sessionToken); err != nil {
		return fmt.Errorf("identity: deleting session: %w", err)
	}
	return nil
}
