// Package tenants persists tenants and their memberships.
package tenants

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"gatehouse/pkg/db"
	"gatehouse/pkg/problems"
	"gatehouse/pkg/roles"
)

var (
	// ErrNotFound is returned for unknown tenants and absent memberships.
	ErrNotFound = fmt.Errorf("tenants: %w", problems.ErrNotFound)
	// ErrSlugTaken is returned by CreateTenant on a duplicate slug.
	ErrSlugTaken = fmt.Errorf("tenant slug already taken: %w", problems.ErrConflict)
	// ErrLastOwner is returned when a change would leave a tenant without an owner.
	ErrLastOwner = fmt.Errorf("tenant must keep at least one owner: %w", problems.ErrConflict)
)

// Store is the membership source of truth. Implementations must be safe for concurrent use.
type Store interface {
	// CreateTenant stores t and its first owner in one unit.
	CreateTenant(ctx context.Context, t Tenant, owner Membership) (Tenant, error)
	GetTenant(ctx context.Context, tenantID string) (Tenant, error)
	GetMembership(ctx context.Context, tenantID, userID string) (Membership, error)
	FindMemberByEmail(ctx context.Context, tenantID, email string) (Membership, error)
	// ListMembers reads through h so row-level predicates apply to scoped handles.
	ListMembers(ctx context.Context, h db.Handle, tenantID string) ([]Membership, error)
	ListUserTenants(ctx context.Context, userID string) ([]UserTenant, error)
	// AddMember inserts m unless (TenantID, UserID) already exists; created reports which.
	AddMember(ctx context.Context, m Membership) (created bool, err error)
	// UpdateRole fails with ErrLastOwner when it would demote the only owner.
	UpdateRole(ctx context.Context, tenantID, userID string, role roles.Role) (Membership, error)
	// RemoveMember fails with ErrLastOwner when it would remove the only owner.
	RemoveMember(ctx context.Context, tenantID, userID string) error
}

type seedEntry struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Slug       string `json:"slug"`
	OwnerID    string `json:"owner_id"`
	OwnerEmail string `json:"owner_email"`
}

// Seed creates tenants from TENANT_SEED_JSON:
//
//	[{"id":"...","name":"Acme","slug":"acme","owner_id":"...","owner_email":"..."}]
//
// Tenants whose slug already exists are skipped, so repeated startups are harmless.
func Seed(ctx context.Context, s Store, jsonSeed string, log *zap.SugaredLogger) error {
	if jsonSeed == "" {
		return nil
	}
	var entries []seedEntry
	if err := json.Unmarshal([]byte(jsonSeed), &entries); err != nil {
		return fmt.Errorf("tenant seed: %w", err)
	}
	for _, e := range entries {
		if e.OwnerID == "" || NormalizeSlug(e.Slug) == "" {
			return fmt.Errorf("tenant seed: entry %q needs slug and owner_id", e.Name)
		}
		t, err := s.CreateTenant(ctx,
			Tenant{ID: e.ID, Name: e.Name, Slug: e.Slug},
			Membership{UserID: e.OwnerID, Email: e.OwnerEmail, Role: roles.Owner})
		if errors.Is(err, ErrSlugTaken) {
			log.Debugw("tenant seed: exists", "slug", e.Slug)
			continue
		}
		if err != nil {
			return fmt.Errorf("tenant seed %s: %w", e.Slug, err)
		}
		log.Infow("tenant seeded", "tenant_id", t.ID, "slug", t.Slug)
	}
	return nil
}
