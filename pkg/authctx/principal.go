package authctx

import (
	"context"

	"gatehouse/pkg/claims"
	"gatehouse/pkg/db"
	"gatehouse/pkg/roles"
)

// Principal is the identity resolved for one request. It is never persisted.
// ID is empty for anonymous principals, including private (service) callers.
type Principal struct {
	ID       string
	Email    string
	Claims   claims.Claims
	Strategy Strategy
}

// IsUser reports whether a logged-in actor invoked the operation. With an allow set of
// [user, private] this is how the handler tells the two caller types apart.
func (p Principal) IsUser() bool { return p.Strategy == User && p.ID != "" }

// IsService reports whether the caller presented the shared service secret.
func (p Principal) IsService() bool { return p.Strategy == Private }

func (p Principal) TenantID() string { return p.Claims.AppMetadata.TenantID }

func (p Principal) TenantRole() roles.Role { return p.Claims.AppMetadata.TenantRole }

type ctxKey struct{ name string }

var (
	principalKey = ctxKey{"principal"}
	handleKey    = ctxKey{"handle"}
)

func WithPrincipal(ctx context.Context, p Principal, h db.Handle) context.Context {
	ctx = context.WithValue(ctx, principalKey, p)
	return context.WithValue(ctx, handleKey, h)
}

// PrincipalFrom returns the resolved principal; ok is false outside an authorized route.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

func HandleFrom(ctx context.Context) db.Handle {
	if h, ok := ctx.Value(handleKey).(db.Handle); ok {
		return h
	}
	return db.Anonymous(nil)
}
