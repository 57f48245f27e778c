package tenancy

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gatehouse/pkg/authctx"
	"gatehouse/pkg/db"
	"gatehouse/pkg/logger"
	"gatehouse/pkg/policy"
	"gatehouse/pkg/problems"
	"gatehouse/pkg/roles"
	"gatehouse/pkg/tenants"
)

// Service implements tenant creation and membership management on top of tenants.Store.
// Every user-invoked operation is checked with policy.CanAccess; service callers bypass it.
type Service struct {
	store  tenants.Store
	claims *ClaimsManager
	log    *zap.SugaredLogger
}

func NewService(store tenants.Store, cm *ClaimsManager, log *zap.SugaredLogger) *Service {
	return &Service{store: store, claims: cm, log: logger.OrNop(log)}
}

// CreateTenant creates a tenant owned by p. An empty slug is derived from name.
func (s *Service) CreateTenant(ctx context.Context, p authctx.Principal, name, slug string) (tenants.Tenant, error) {
	if !p.IsUser() {
		return tenants.Tenant{}, problems.ErrUnauthorized
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return tenants.Tenant{}, fmt.Errorf("name required: %w", problems.ErrBadRequest)
	}
	if strings.TrimSpace(slug) == "" {
		slug = name
	}
	slug = tenants.NormalizeSlug(slug)
	if slug == "" {
		return tenants.Tenant{}, fmt.Errorf("slug must contain letters or digits: %w", problems.ErrBadRequest)
	}
	t, err := s.store.CreateTenant(ctx, tenants.Tenant{Name: name, Slug: slug},
		tenants.Membership{UserID: p.ID, Email: p.Email, Role: roles.Owner})
	if err != nil {
		return tenants.Tenant{}, err
	}
	s.log.Infow("tenant created", "tenant_id", t.ID, "slug", t.Slug, "owner", p.ID)
	return t, nil
}

func (s *Service) ListMyTenants(ctx context.Context, p authctx.Principal) ([]tenants.UserTenant, error) {
	if !p.IsUser() {
		return nil, problems.ErrUnauthorized
	}
	out, err := s.store.ListUserTenants(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []tenants.UserTenant{}
	}
	return out, nil
}

// ListMembers reads through h. Users need read on the tenant; service callers see all.
func (s *Service) ListMembers(ctx context.Context, p authctx.Principal, h db.Handle, tenantID string) ([]tenants.Membership, error) {
	switch {
	case p.IsService():
		if _, err := s.store.GetTenant(ctx, tenantID); err != nil {
			return nil, err
		}
	case p.IsUser():
		if !policy.CanAccess(p, policy.TenantResource(tenantID), policy.Read) {
			return nil, problems.ErrForbidden
		}
	default:
		return nil, problems.ErrUnauthorized
	}
	out, err := s.store.ListMembers(ctx, h, tenantID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []tenants.Membership{}
	}
	return out, nil
}

// UpdateMemberRole changes userID's role. The actor cannot grant above their own role and
// only owners may change an owner.
func (s *Service) UpdateMemberRole(ctx context.Context, p authctx.Principal, tenantID, userID, role string) (tenants.Membership, error) {
	if !p.IsUser() {
		return tenants.Membership{}, problems.ErrUnauthorized
	}
	r, err := roles.Parse(role)
	if err != nil {
		return tenants.Membership{}, fmt.Errorf("%v: %w", err, problems.ErrBadRequest)
	}
	if !policy.CanAccess(p, policy.TenantResource(tenantID), policy.ManageMembers) {
		return tenants.Membership{}, problems.ErrForbidden
	}
	if !roles.HasRole(p.TenantRole(), r) {
		return tenants.Membership{}, fmt.Errorf("cannot grant %s: %w", r, problems.ErrForbidden)
	}
	target, err := s.store.GetMembership(ctx, tenantID, userID)
	if err != nil {
		return tenants.Membership{}, err
	}
	if target.Role == roles.Owner && p.TenantRole() != roles.Owner {
		return tenants.Membership{}, problems.ErrForbidden
	}
	updated, err := s.store.UpdateRole(ctx, tenantID, userID, r)
	if err != nil {
		return tenants.Membership{}, err
	}
	if err := s.claims.Sync(ctx, tenantID, userID, r); err != nil {
		s.log.Warnw("claims sync failed", "tenant_id", tenantID, "user_id", userID, "err", err)
	}
	s.log.Infow("member role changed", "tenant_id", tenantID, "user_id", userID, "from", target.Role, "to", r, "by", p.ID)
	return updated, nil
}

// RemoveMember deletes a membership. Users may always leave a tenant themselves; removing
// someone else needs delete on the tenant, and removing an owner needs owner.
func (s *Service) RemoveMember(ctx context.Context, p authctx.Principal, tenantID, userID string) error {
	target, err := s.store.GetMembership(ctx, tenantID, userID)
	switch {
	case p.IsService():
		if err != nil {
			return err
		}
	case p.IsUser():
		self := userID == p.ID
		if !self && !policy.CanAccess(p, policy.TenantResource(tenantID), policy.Delete) {
			return problems.ErrForbidden
		}
		if err != nil {
			return err
		}
		if !self && target.Role == roles.Owner && p.TenantRole() != roles.Owner {
			return problems.ErrForbidden
		}
	default:
		return problems.ErrUnauthorized
	}
	if err := s.store.RemoveMember(ctx, tenantID, userID); err != nil {
		return err
	}
	if err := s.claims.Sync(ctx, tenantID, userID, roles.None); err != nil {
		s.log.Warnw("claims clear failed", "tenant_id", tenantID, "user_id", userID, "err", err)
	}
	s.log.Infow("member removed", "tenant_id", tenantID, "user_id", userID, "by", p.ID)
	return nil
}
