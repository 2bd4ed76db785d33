// Package tenancy implements C3 TenancyStore: organizations, memberships,
// invitations, per-connection ACLs, and the per-organization backup
// password. Its permission predicates are the sole trust boundary of the
// system — per spec.md §4.3 and §9, every externally-triggered operation
// begins with exactly one of them, and no caller may pre-filter rows on
// its own judgment of visibility.
package tenancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vaultkeep-io/vaultkeep/internal/repository"
	"github.com/vaultkeep-io/vaultkeep/internal/vault"
)

const (
	// RoleAdmin and RoleMember are the only two Membership.Role values.
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Predicates evaluates the five permission predicates of spec.md §4.3
// directly against the repository layer. It holds no state of its own and
// is safe to share across goroutines.
type Predicates struct {
	memberships repository.MembershipRepository
	permissions repository.ConnectionPermissionRepository
	orgs        repository.OrganizationRepository
}

// NewPredicates constructs a Predicates evaluator.
func NewPredicates(memberships repository.MembershipRepository, permissions repository.ConnectionPermissionRepository, orgs repository.OrganizationRepository) *Predicates {
	return &Predicates{memberships: memberships, permissions: permissions, orgs: orgs}
}

// IsMember reports whether u has any Membership row in org o.
func (p *Predicates) IsMember(ctx context.Context, u, o uuid.UUID) (bool, error) {
	_, err := p.memberships.Get(ctx, o, u)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("tenancy: is member: %w", err)
	}
	return true, nil
}

// IsAdmin reports whether u has a Membership row in org o with role=admin.
func (p *Predicates) IsAdmin(ctx context.Context, u, o uuid.UUID) (bool, error) {
	m, err := p.memberships.Get(ctx, o, u)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("tenancy: is admin: %w", err)
	}
	return m.Role == RoleAdmin, nil
}

// CanAccessConnection reports whether u may operate on connection c scoped
// to organization o: admins implicitly can; members need an explicit
// ConnectionPermission row.
func (p *Predicates) CanAccessConnection(ctx context.Context, u, c, o uuid.UUID) (bool, error) {
	admin, err := p.IsAdmin(ctx, u, o)
	if err != nil {
		return false, err
	}
	if admin {
		return true, nil
	}
	ok, err := p.permissions.Exists(ctx, u, c)
	if err != nil {
		return false, fmt.Errorf("tenancy: can access connection: %w", err)
	}
	return ok, nil
}

// CanManageConnections reports whether u may create/update/delete
// Connections in organization o. Identical to IsAdmin today; kept as a
// distinct predicate because spec.md §4.3 names it separately and a future
// role (e.g. "connection-manager") could diverge from plain admin without
// touching every call site.
func (p *Predicates) CanManageConnections(ctx context.Context, u, o uuid.UUID) (bool, error) {
	return p.IsAdmin(ctx, u, o)
}

// CanBackup reports whether u may trigger or export a backup in
// organization o: u must be an admin AND supply the organization's current
// backup password. This is the interactive form, used wherever a caller
// actually has the plaintext password on hand (the "/export" endpoint, and
// any future interactive backup trigger that collects it).
func (p *Predicates) CanBackup(ctx context.Context, u, o uuid.UUID, suppliedPassword string) (bool, error) {
	admin, err := p.IsAdmin(ctx, u, o)
	if err != nil {
		return false, err
	}
	if !admin {
		return false, nil
	}
	return p.VerifyBackupPassword(ctx, o, suppliedPassword)
}

// CanBackupAutomated reports whether u may trigger a backup in
// organization o with no password available at all: the SchedulerLoop's
// tick dispatch, and the "/backup/execute" endpoint, which per spec.md
// §6.1's endpoint table carries only `{scheduleId}` in its body. Per
// spec.md §9 Q2 (resolved): the backup password is stored as a one-way
// PBKDF2 hash (§4.1), so it cannot be recovered and re-supplied
// automatically; isAdmin(u,o) is the only enforceable check for these two
// paths, relying on the fact that only an admin could have created the
// schedule in the first place (schedulestore.Store.requireAdmin at creation
// time). CanBackup's full password re-verification remains the
// enforcement point for every path that actually collects a password from
// the caller.
func (p *Predicates) CanBackupAutomated(ctx context.Context, u, o uuid.UUID) (bool, error) {
	return p.IsAdmin(ctx, u, o)
}

// VerifyBackupPassword checks plaintext against organization o's stored
// backup password hash.
func (p *Predicates) VerifyBackupPassword(ctx context.Context, o uuid.UUID, plaintext string) (bool, error) {
	org, err := p.orgs.GetByID(ctx, o)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("tenancy: verify backup password: %w", err)
	}
	ok, err := vault.VerifyPassword(plaintext, org.BackupPasswordHash)
	if err != nil {
		return false, nil
	}
	return ok, nil
}

// membershipRole looks up u's role in org o, or "" if u is not a member.
func membershipRole(ctx context.Context, memberships repository.MembershipRepository, o, u uuid.UUID) (string, error) {
	m, err := memberships.Get(ctx, o, u)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return m.Role, nil
}
