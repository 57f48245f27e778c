package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Database roles the scoped handle switches to. Row-level policies are written against them;
// the pool's own login role (the privileged path) bypasses them.
const (
	RoleAnon          = "gatehouse_anon"
	RoleAuthenticated = "gatehouse_authenticated"
)

// ErrNoDatabase is returned by Run when the service runs on in-memory stores.
var ErrNoDatabase = errors.New("no database configured")

// Runner is what both *pgxpool.Pool and pgx.Tx offer.
type Runner interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Scope int

const (
	ScopeAnonymous Scope = iota
	ScopeUser
	ScopePrivileged
)

func (s Scope) String() string {
	switch s {
	case ScopeUser:
		return "user"
	case ScopePrivileged:
		return "privileged"
	}
	return "anonymous"
}

// Handle is the data-access handle built per request by the resolver.
// Anonymous and user handles run every statement inside a transaction with a restricted
// role and request.jwt.claims set, so row-level predicates apply. The privileged handle
// runs directly on the pool.
type Handle struct {
	pool   *pgxpool.Pool
	scope  Scope
	claims string
}

func Anonymous(pool *pgxpool.Pool) Handle { return Handle{pool: pool, scope: ScopeAnonymous, claims: "{}"} }

func Scoped(pool *pgxpool.Pool, claimsJSON string) Handle {
	return Handle{pool: pool, scope: ScopeUser, claims: claimsJSON}
}

func Privileged(pool *pgxpool.Pool) Handle { return Handle{pool: pool, scope: ScopePrivileged} }

func (h Handle) Scope() Scope { return h.scope }

func (h Handle) IsPrivileged() bool { return h.scope == ScopePrivileged }

// HasDatabase is false when the service runs without Postgres.
func (h Handle) HasDatabase() bool { return h.pool != nil }

// Run executes fn against the handle's view of the database. Scoped transactions are
// committed when fn returns nil and rolled back otherwise.
func (h Handle) Run(ctx context.Context, fn func(Runner) error) error {
	if h.pool == nil {
		return ErrNoDatabase
	}
	if h.scope == ScopePrivileged {
		return fn(h.pool)
	}
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := applyScope(ctx, tx, h.scope, h.claims); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func applyScope(ctx context.Context, tx pgx.Tx, scope Scope, claims string) error {
	role := RoleAnon
	if scope == ScopeUser {
		role = RoleAuthenticated
	}
	// set_config(..., true) is transaction-local, like SET LOCAL.
	_, err := tx.Exec(ctx, "SELECT set_config('request.jwt.claims', $1, true), set_config('role', $2, true)", claims, role)
	return err
}
