package tenancy

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
	// invitationTokenBytes is the length of an Invitation token before hex
	// encoding — high-entropy per spec.md §3.
	invitationTokenBytes = 32

	// invitationTTL bounds how long a pending Invitation remains acceptable.
	invitationTTL = 7 * 24 * time.Hour
)

// Store is C3 TenancyStore. Every mutating method runs the relevant
// permission predicate before touching state; read methods either use
// IsMember/CanAccessConnection or are themselves scoped by the caller's own
// id (ListOrganizationsForUser).
type Store struct {
	orgs        repository.OrganizationRepository
	memberships repository.MembershipRepository
	invitations repository.InvitationRepository
	permissions repository.ConnectionPermissionRepository
	users       repository.UserRepository
	pred        *Predicates
	logger      *zap.Logger
}

// New constructs a Store and the Predicates evaluator it shares with every
// other component that needs permission checks (C4-C7).
func New(orgs repository.OrganizationRepository, memberships repository.MembershipRepository, invitations repository.InvitationRepository, permissions repository.ConnectionPermissionRepository, users repository.UserRepository, logger *zap.Logger) *Store {
	return &Store{
		orgs:        orgs,
		memberships: memberships,
		invitations: invitations,
		permissions: permissions,
		users:       users,
		pred:        NewPredicates(memberships, permissions, orgs),
		logger:      logger.Named("tenancy"),
	}
}

// Predicates exposes the shared permission evaluator so other components
// (C4 ConnectionRegistry, C5 ScheduleStore, C7 BackupExecutor) can consult
// the same trust boundary without re-deriving it.
func (s *Store) Predicates() *Predicates { return s.pred }

// CreateOrganization inserts an Organization and its founding admin
// Membership as one unit: if the Membership insert fails, the Organization
// row is deleted again before the error is returned. The backup password is mandatory and hashed via
// internal/vault before storage — plaintext never touches the database.
func (s *Store) CreateOrganization(ctx context.Context, userID uuid.UUID, name, backupPassword string) (uuid.UUID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return uuid.Nil, fmt.Errorf("%w: organization name is required", apperr.ValidationError)
	}
	if backupPassword == "" {
		return uuid.Nil, fmt.Errorf("%w: backup password is required", apperr.ValidationError)
	}

	hash, err := vault.HashPassword(backupPassword)
	if err != nil {
		return uuid.Nil, fmt.Errorf("tenancy: hashing backup password: %w", err)
	}

	org := &db.Organization{
		Name:               name,
		CreatedBy:          userID,
		BackupPasswordHash: hash,
	}
	if err := s.orgs.Create(ctx, org); err != nil {
		return uuid.Nil, fmt.Errorf("tenancy: creating organization: %w", err)
	}

	membership := &db.Membership{
		OrganizationID: org.ID,
		UserID:         userID,
		Role:           RoleAdmin,
		JoinedAt:       time.Now(),
	}
	if err := s.memberships.Create(ctx, membership); err != nil {
		if delErr := s.orgs.Delete(ctx, org.ID); delErr != nil {
			return uuid.Nil, fmt.Errorf("tenancy: creating founding membership: %w (removing organization: %v)", err, delErr)
		}
		return uuid.Nil, fmt.Errorf("tenancy: creating founding membership: %w", err)
	}

	return org.ID, nil
}

// OrganizationSummary is the shape spec.md §4.3 describes for
// listOrganizationsForUser.
type OrganizationSummary struct {
	ID        uuid.UUID
	Name      string
	Role      string
	JoinedAt  time.Time
	CreatedAt time.Time
}

// ListOrganizationsForUser lists every organization userID belongs to, with
// their role and join time.
func (s *Store) ListOrganizationsForUser(ctx context.Context, userID uuid.UUID) ([]OrganizationSummary, error) {
	orgs, err := s.orgs.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("tenancy: listing organizations for user: %w", err)
	}
	out := make([]OrganizationSummary, 0, len(orgs))
	for _, org := range orgs {
		m, err := s.memberships.Get(ctx, org.ID, userID)
		if err != nil {
			return nil, fmt.Errorf("tenancy: resolving membership: %w", err)
		}
		out = append(out, OrganizationSummary{
			ID:        org.ID,
			Name:      org.Name,
			Role:      m.Role,
			JoinedAt:  m.JoinedAt,
			CreatedAt: org.CreatedAt,
		})
	}
	return out, nil
}

func (s *Store) requireAdmin(ctx context.Context, userID, orgID uuid.UUID) error {
	ok, err := s.pred.IsAdmin(ctx, userID, orgID)
	if err != nil {
		return fmt.Errorf("tenancy: checking admin permission: %w", err)
	}
	if !ok {
		return apperr.PermissionDenied
	}
	return nil
}

// Invite creates a pending Invitation for email in organization orgID,
// returning the token embedded in the invitation link. Only an admin may
// invite.
func (s *Store) Invite(ctx context.Context, adminID, orgID uuid.UUID, email string) (string, error) {
	if err := s.requireAdmin(ctx, adminID, orgID); err != nil {
		return "", err
	}

	raw := make([]byte, invitationTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("tenancy: generating invitation token: %w", err)
	}
	token := hex.EncodeToString(raw)

	inv := &db.Invitation{
		OrganizationID: orgID,
		Email:          strings.ToLower(strings.TrimSpace(email)),
		Token:          token,
		InvitedBy:      adminID,
		ExpiresAt:      time.Now().Add(invitationTTL),
		Status:         "pending",
	}
	if err := s.invitations.Create(ctx, inv); err != nil {
		return "", fmt.Errorf("tenancy: creating invitation: %w", err)
	}
	return token, nil
}

// AcceptInvitation resolves a pending Invitation by token and creates a
// member Membership for userID, iff userID's verified email matches the
// invitation's target email case-insensitively.
func (s *Store) AcceptInvitation(ctx context.Context, userID uuid.UUID, token string) error {
	inv, err := s.invitations.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: invitation", apperr.NotFound)
		}
		return fmt.Errorf("tenancy: loading invitation: %w", err)
	}
	if inv.Status != "pending" {
		return fmt.Errorf("%w: invitation is no longer pending", apperr.ValidationError)
	}
	if time.Now().After(inv.ExpiresAt) {
		return fmt.Errorf("%w: invitation expired", apperr.ValidationError)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("tenancy: loading accepting user: %w", err)
	}
	if !user.EmailVerified || !strings.EqualFold(user.Email, inv.Email) {
		return apperr.PermissionDenied
	}

	membership := &db.Membership{
		OrganizationID: inv.OrganizationID,
		UserID:         userID,
		Role:           RoleMember,
		JoinedAt:       time.Now(),
	}
	if err := s.memberships.Create(ctx, membership); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return fmt.Errorf("%w: already a member", apperr.Conflict)
		}
		return fmt.Errorf("tenancy: creating membership from invitation: %w", err)
	}

	inv.Status = "accepted"
	if err := s.invitations.Update(ctx, inv); err != nil {
		s.logger.Warn("failed to mark invitation accepted", zap.Error(err))
	}
	return nil
}

// SetRole changes targetUserID's role within orgID. Only an admin may do
// this.
func (s *Store) SetRole(ctx context.Context, adminID, orgID, targetUserID uuid.UUID, role string) error {
	if err := s.requireAdmin(ctx, adminID, orgID); err != nil {
		return err
	}
	if role != RoleAdmin && role != RoleMember {
		return fmt.Errorf("%w: role must be %q or %q", apperr.ValidationError, RoleAdmin, RoleMember)
	}
	m, err := s.memberships.Get(ctx, orgID, targetUserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: membership", apperr.NotFound)
		}
		return fmt.Errorf("tenancy: loading membership: %w", err)
	}
	m.Role = role
	if err := s.memberships.Update(ctx, m); err != nil {
		return fmt.Errorf("tenancy: updating role: %w", err)
	}
	return nil
}

// RemoveMember deletes targetUserID's Membership in orgID. Only an admin
// may do this.
func (s *Store) RemoveMember(ctx context.Context, adminID, orgID, targetUserID uuid.UUID) error {
	if err := s.requireAdmin(ctx, adminID, orgID); err != nil {
		return err
	}
	if err := s.memberships.Delete(ctx, orgID, targetUserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: membership", apperr.NotFound)
		}
		return fmt.Errorf("tenancy: removing member: %w", err)
	}
	return nil
}

// ResetBackupPassword replaces orgID's backup password hash. Per
// SPEC_FULL's supplemented-features note, this deliberately does NOT
// invalidate existing sessions — the backup password is not a login
// credential.
func (s *Store) ResetBackupPassword(ctx context.Context, adminID, orgID uuid.UUID, newPassword string) error {
	if err := s.requireAdmin(ctx, adminID, orgID); err != nil {
		return err
	}
	if newPassword == "" {
		return fmt.Errorf("%w: backup password is required", apperr.ValidationError)
	}
	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		return fmt.Errorf("tenancy: loading organization: %w", err)
	}
	hash, err := vault.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("tenancy: hashing new backup password: %w", err)
	}
	org.BackupPasswordHash = hash
	if err := s.orgs.Update(ctx, org); err != nil {
		return fmt.Errorf("tenancy: updating backup password: %w", err)
	}
	return nil
}

// VerifyBackupPassword delegates to Predicates for callers (e.g. the HTTP
// layer) that only need the boolean check without the admin requirement.
func (s *Store) VerifyBackupPassword(ctx context.Context, orgID uuid.UUID, plaintext string) (bool, error) {
	return s.pred.VerifyBackupPassword(ctx, orgID, plaintext)
}

// DeleteOrganization cascades all owned rows per spec.md §3. Only an admin
// may delete.
func (s *Store) DeleteOrganization(ctx context.Context, adminID, orgID uuid.UUID) error {
	if err := s.requireAdmin(ctx, adminID, orgID); err != nil {
		return err
	}
	if err := s.orgs.Delete(ctx, orgID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: organization", apperr.NotFound)
		}
		return fmt.Errorf("tenancy: deleting organization: %w", err)
	}
	return nil
}

// GrantConnection gives memberID explicit access to connectionID within
// orgID. Only an admin may grant.
func (s *Store) GrantConnection(ctx context.Context, adminID, orgID, memberID, connectionID uuid.UUID) error {
	if err := s.requireAdmin(ctx, adminID, orgID); err != nil {
		return err
	}
	perm := &db.ConnectionPermission{
		UserID:         memberID,
		ConnectionID:   connectionID,
		OrganizationID: orgID,
		GrantedAt:      time.Now(),
	}
	if err := s.permissions.Grant(ctx, perm); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil // idempotent: already granted
		}
		return fmt.Errorf("tenancy: granting connection access: %w", err)
	}
	return nil
}

// RevokeConnection removes memberID's explicit access to connectionID.
// Only an admin may revoke.
func (s *Store) RevokeConnection(ctx context.Context, adminID, orgID, memberID, connectionID uuid.UUID) error {
	if err := s.requireAdmin(ctx, adminID, orgID); err != nil {
		return err
	}
	if err := s.permissions.Revoke(ctx, memberID, connectionID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil // idempotent: already revoked
		}
		return fmt.Errorf("tenancy: revoking connection access: %w", err)
	}
	return nil
}
