// pkg/tenants/postgres.go
package tenants

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"gatehouse/pkg/db"
	"gatehouse/pkg/policy"
	"gatehouse/pkg/roles"
)

// PostgresStore implements Store on PostgreSQL. Its own queries run on the pool's login
// role; ListMembers goes through the caller's handle.
type PostgresStore struct {
	dbPool *pgxpool.Pool
	log    *zap.SugaredLogger
}

func NewPostgresStore(dbPool *pgxpool.Pool, log *zap.SugaredLogger) *PostgresStore {
	return &PostgresStore{dbPool: dbPool, log: log}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
  id text PRIMARY KEY,
  name text NOT NULL DEFAULT '',
  slug text NOT NULL UNIQUE,
  created_at timestamptz NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS memberships (
  tenant_id text NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
  user_id text NOT NULL,
  email text NOT NULL DEFAULT '',
  role text NOT NULL CHECK (role IN ('viewer','member','admin','owner')),
  created_at timestamptz NOT NULL DEFAULT NOW(),
  PRIMARY KEY (tenant_id, user_id)
)`,
	`CREATE INDEX IF NOT EXISTS memberships_user_idx ON memberships(user_id)`,
	`CREATE INDEX IF NOT EXISTS memberships_email_idx ON memberships(tenant_id, email)`,
}

// EnsureSchema creates the tables, the policy helper functions and the row-level policies
// for tenants and memberships. Safe to call repeatedly (idempotent).
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	stmts := append([]string{}, schema...)
	stmts = append(stmts, policy.FunctionsDDL()...)
	stmts = append(stmts, policy.TableDDL(policy.TenantsTable)...)
	stmts = append(stmts, policy.TableDDL(policy.MembershipsTable)...)
	for _, s := range stmts {
		if _, err := dbPool.Exec(ctx, s); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (p *PostgresStore) CreateTenant(ctx context.Context, t Tenant, owner Membership) (Tenant, error) {
	t.Slug = NormalizeSlug(t.Slug)
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	err := pgx.BeginFunc(ctx, p.dbPool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `INSERT INTO tenants(id,name,slug) VALUES ($1,$2,$3) RETURNING created_at`,
			t.ID, t.Name, t.Slug).Scan(&t.CreatedAt); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO memberships(tenant_id,user_id,email,role) VALUES ($1,$2,$3,$4)`,
			t.ID, owner.UserID, NormalizeEmail(owner.Email), string(roles.Owner))
		return err
	})
	if isUniqueViolation(err) {
		return Tenant{}, ErrSlugTaken
	}
	if err != nil {
		return Tenant{}, fmt.Errorf("create tenant: %w", err)
	}
	return t, nil
}

func (p *PostgresStore) GetTenant(ctx context.Context, tenantID string) (Tenant, error) {
	var t Tenant
	err := p.dbPool.QueryRow(ctx, `SELECT id,name,slug,created_at FROM tenants WHERE id=$1`, tenantID).
		Scan(&t.ID, &t.Name, &t.Slug, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, ErrNotFound
	}
	if err != nil {
		return Tenant{}, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

const memberCols = `tenant_id,user_id,email,role,created_at`

func scanMember(row pgx.Row) (Membership, error) {
	var m Membership
	var role string
	if err := row.Scan(&m.TenantID, &m.UserID, &m.Email, &role, &m.CreatedAt); err != nil {
		return Membership{}, err
	}
	m.Role = roles.Role(role)
	return m, nil
}

func (p *PostgresStore) getMember(ctx context.Context, q db.Runner, where string, args ...any) (Membership, error) {
	m, err := scanMember(q.QueryRow(ctx, `SELECT `+memberCols+` FROM memberships WHERE `+where, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Membership{}, ErrNotFound
	}
	if err != nil {
		return Membership{}, fmt.Errorf("get membership: %w", err)
	}
	return m, nil
}

func (p *PostgresStore) GetMembership(ctx context.Context, tenantID, userID string) (Membership, error) {
	return p.getMember(ctx, p.dbPool, `tenant_id=$1 AND user_id=$2`, tenantID, userID)
}

func (p *PostgresStore) FindMemberByEmail(ctx context.Context, tenantID, email string) (Membership, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return Membership{}, ErrNotFound
	}
	return p.getMember(ctx, p.dbPool, `tenant_id=$1 AND email=$2 LIMIT 1`, tenantID, email)
}

func (p *PostgresStore) ListMembers(ctx context.Context, h db.Handle, tenantID string) ([]Membership, error) {
	var out []Membership
	err := h.Run(ctx, func(q db.Runner) error {
		rows, err := q.Query(ctx, `SELECT `+memberCols+` FROM memberships WHERE tenant_id=$1 ORDER BY email, user_id`, tenantID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			m, err := scanMember(rows)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) ListUserTenants(ctx context.Context, userID string) ([]UserTenant, error) {
	rows, err := p.dbPool.Query(ctx, `SELECT t.id,t.name,t.slug,t.created_at,m.role
		FROM memberships m JOIN tenants t ON t.id = m.tenant_id
		WHERE m.user_id=$1 ORDER BY t.slug`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user tenants: %w", err)
	}
	defer rows.Close()
	var out []UserTenant
	for rows.Next() {
		var ut UserTenant
		var role string
		if err := rows.Scan(&ut.ID, &ut.Name, &ut.Slug, &ut.CreatedAt, &role); err != nil {
			return nil, err
		}
		ut.Role = roles.Role(role)
		out = append(out, ut)
	}
	return out, rows.Err()
}

// AddMemberTx is AddMember on an open transaction, so invitation acceptance can insert
// the membership and mark the invitation in one unit.
func AddMemberTx(ctx context.Context, q db.Runner, m Membership) (bool, error) {
	tag, err := q.Exec(ctx, `INSERT INTO memberships(tenant_id,user_id,email,role) VALUES ($1,$2,$3,$4)
		ON CONFLICT (tenant_id,user_id) DO NOTHING`,
		m.TenantID, m.UserID, NormalizeEmail(m.Email), string(m.Role))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("add member: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresStore) AddMember(ctx context.Context, m Membership) (bool, error) {
	return AddMemberTx(ctx, p.dbPool, m)
}

// lockOwners takes row locks on the tenant's owners and returns how many there are.
func lockOwners(ctx context.Context, tx pgx.Tx, tenantID string) (int, error) {
	rows, err := tx.Query(ctx, `SELECT user_id FROM memberships WHERE tenant_id=$1 AND role='owner' FOR UPDATE`, tenantID)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		n++
	}
	return n, rows.Err()
}

func (p *PostgresStore) UpdateRole(ctx context.Context, tenantID, userID string, role roles.Role) (Membership, error) {
	var out Membership
	err := pgx.BeginFunc(ctx, p.dbPool, func(tx pgx.Tx) error {
		owners, err := lockOwners(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		cur, err := p.getMember(ctx, tx, `tenant_id=$1 AND user_id=$2 FOR UPDATE`, tenantID, userID)
		if err != nil {
			return err
		}
		if cur.Role == roles.Owner && role != roles.Owner && owners <= 1 {
			return ErrLastOwner
		}
		out, err = scanMember(tx.QueryRow(ctx, `UPDATE memberships SET role=$3 WHERE tenant_id=$1 AND user_id=$2 RETURNING `+memberCols,
			tenantID, userID, string(role)))
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrLastOwner) {
			return Membership{}, err
		}
		return Membership{}, fmt.Errorf("update role: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) RemoveMember(ctx context.Context, tenantID, userID string) error {
	err := pgx.BeginFunc(ctx, p.dbPool, func(tx pgx.Tx) error {
		owners, err := lockOwners(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		cur, err := p.getMember(ctx, tx, `tenant_id=$1 AND user_id=$2 FOR UPDATE`, tenantID, userID)
		if err != nil {
			return err
		}
		if cur.Role == roles.Owner && owners <= 1 {
			return ErrLastOwner
		}
		_, err = tx.Exec(ctx, `DELETE FROM memberships WHERE tenant_id=$1 AND user_id=$2`, tenantID, userID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrLastOwner) {
			return err
		}
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}
