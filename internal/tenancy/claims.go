// Package tenancy owns tenant selection, credential re-issuance and membership management.
package tenancy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gatehouse/pkg/authctx"
	"gatehouse/pkg/claims"
	"gatehouse/pkg/config"
	"gatehouse/pkg/logger"
	"gatehouse/pkg/problems"
	"gatehouse/pkg/roles"
	"gatehouse/pkg/tenants"
)

// MembershipReader is the slice of tenants.Store the claims manager needs.
type MembershipReader interface {
	GetMembership(ctx context.Context, tenantID, userID string) (tenants.Membership, error)
}

// ClaimsManager writes a principal's active tenant claims and re-issues credentials.
// Claims already embedded in an issued credential are never revoked; they go stale
// until the caller refreshes or the credential expires.
type ClaimsManager struct {
	members MembershipReader
	store   claims.Store
	issuer  *claims.Issuer
	timeout time.Duration
	log     *zap.SugaredLogger
}

func NewClaimsManager(cfg config.Config, members MembershipReader, store claims.Store, issuer *claims.Issuer, log *zap.SugaredLogger) *ClaimsManager {
	return &ClaimsManager{
		members: members,
		store:   store,
		issuer:  issuer,
		timeout: cfg.LookupTimeout,
		log:     logger.OrNop(log),
	}
}

func (m *ClaimsManager) lookupCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.timeout)
}

// lookupErr reports a timed-out lookup as unavailable instead of leaking the driver error.
func lookupErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, problems.ErrServiceUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// SelectTenant makes tenantID the principal's active tenant. The returned claims are not a
// credential; the caller must call Refresh to observe them.
func (m *ClaimsManager) SelectTenant(ctx context.Context, p authctx.Principal, tenantID string) (claims.Claims, error) {
	if !p.IsUser() {
		return claims.Claims{}, problems.ErrUnauthorized
	}
	if tenantID == "" {
		return claims.Claims{}, fmt.Errorf("tenant id required: %w", problems.ErrBadRequest)
	}
	lctx, cancel := m.lookupCtx(ctx)
	defer cancel()
	ms, err := m.members.GetMembership(lctx, tenantID, p.ID)
	if errors.Is(err, tenants.ErrNotFound) {
		return claims.Claims{}, problems.ErrNotAMember
	}
	if err != nil {
		return claims.Claims{}, lookupErr(lctx, "membership lookup", err)
	}

	md := claims.AppMetadata{TenantID: tenantID, TenantRole: ms.Role}
	if err := m.store.Put(lctx, p.ID, md); err != nil {
		return claims.Claims{}, lookupErr(lctx, "store claims", err)
	}
	m.log.Infow("tenant selected", "user_id", p.ID, "tenant_id", tenantID, "role", ms.Role)

	c := p.Claims
	c.AppMetadata = md
	return c, nil
}

// Refresh re-issues the caller's credential from the stored claims.
func (m *ClaimsManager) Refresh(ctx context.Context, p authctx.Principal) (claims.Token, error) {
	if !p.IsUser() {
		return claims.Token{}, problems.ErrUnauthorized
	}
	return m.IssueToken(ctx, p.ID, p.Email)
}

// IssueToken mints a credential for userID from stored claims. A stored tenant whose
// membership no longer exists is dropped; a changed role is picked up.
func (m *ClaimsManager) IssueToken(ctx context.Context, userID, email string) (claims.Token, error) {
	if userID == "" {
		return claims.Token{}, fmt.Errorf("user id required: %w", problems.ErrBadRequest)
	}
	lctx, cancel := m.lookupCtx(ctx)
	defer cancel()
	md, err := m.store.Get(lctx, userID)
	if err != nil {
		return claims.Token{}, lookupErr(lctx, "load claims", err)
	}
	if md.TenantID != "" {
		ms, err := m.members.GetMembership(lctx, md.TenantID, userID)
		switch {
		case errors.Is(err, tenants.ErrNotFound):
			m.log.Infow("dropping stale tenant claims", "user_id", userID, "tenant_id", md.TenantID)
			md = claims.AppMetadata{}
			if err := m.store.Delete(lctx, userID); err != nil {
				return claims.Token{}, lookupErr(lctx, "clear claims", err)
			}
		case err != nil:
			return claims.Token{}, lookupErr(lctx, "membership lookup", err)
		case ms.Role != md.TenantRole:
			md.TenantRole = ms.Role
			if err := m.store.Put(lctx, userID, md); err != nil {
				return claims.Token{}, lookupErr(lctx, "store claims", err)
			}
		}
	}
	tok, err := m.issuer.Issue(claims.Claims{Subject: userID, Email: email, AppMetadata: md})
	if err != nil {
		return claims.Token{}, err
	}
	return tok, nil
}

// Sync updates stored claims after userID's role in tenantID changed. roles.None clears
// them. Stored claims for another active tenant are left alone.
func (m *ClaimsManager) Sync(ctx context.Context, tenantID, userID string, role roles.Role) error {
	md, err := m.store.Get(ctx, userID)
	if err != nil {
		return err
	}
	if md.TenantID != tenantID {
		return nil
	}
	if role == roles.None {
		return m.store.Delete(ctx, userID)
	}
	md.TenantRole = role
	return m.store.Put(ctx, userID, md)
}
