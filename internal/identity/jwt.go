package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims holds the custom JWT claims embedded in every session token.
// Standard claims (exp, iat) are included via jwt.RegisteredClaims; UserID
// is the only application-specific field — the session token's sole job is
// to let CurrentUser short-circuit on a tampered or expired token before
// ever touching the database, not to carry a user profile.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
}

// JWTManager signs and verifies HS256 session tokens under a single
// server-held secret. Unlike the RS256 key-pair scheme this replaces,
// there is no public key to distribute — every vaultkeepd process
// validates tokens with the same secret it signed them with.
type JWTManager struct {
	secret []byte
	issuer string
}

// NewJWTManager returns a JWTManager keyed by secret. secret must be
// non-empty; callers typically derive it from the same master key used by
// internal/vault, or a dedicated signing key from configuration.
func NewJWTManager(secret []byte, issuer string) (*JWTManager, error) {
	if len(secret) == 0 {
		return nil, errors.New("identity: jwt secret must not be empty")
	}
	return &JWTManager{secret: secret, issuer: issuer}, nil
}

// Sign issues an HS256 session token for userID, valid until expiresAt.
func (m *JWTManager) Sign(userID string, expiresAt time.Time) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID: userID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("identity: signing session token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a session token, rejecting anything not
// signed with HS256 under our secret (defends against the "alg:none" and
// RSA/HMAC confusion attacks). It does not check the sessions table —
// callers combine this with a SessionRepository lookup so a token can
// still be revoked before its natural expiry.
func (m *JWTManager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("identity: unexpected signing method: %v", t.Header["alg"])
			}
			return m.secret, nil
		},
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("identity: invalid session token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("identity: invalid session token claims")
	}
	return claims, nil
}
