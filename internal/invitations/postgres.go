package invitations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"gatehouse/pkg/policy"
	"gatehouse/pkg/roles"
	"gatehouse/pkg/tenants"
)

// PostgresStore locks the invitation row with SELECT ... FOR UPDATE so concurrent accepts
// of one token serialize; the loser re-reads accepted_at and gets ErrInvalidOrExpired.
type PostgresStore struct {
	dbPool *pgxpool.Pool
	log    *zap.SugaredLogger
}

func NewPostgresStore(dbPool *pgxpool.Pool, log *zap.SugaredLogger) *PostgresStore {
	return &PostgresStore{dbPool: dbPool, log: log}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS invitations (
  id text PRIMARY KEY,
  tenant_id text NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
  email text NOT NULL,
  role text NOT NULL CHECK (role IN ('viewer','member','admin','owner')),
  invited_by text NOT NULL,
  token text NOT NULL UNIQUE,
  expires_at timestamptz NOT NULL,
  accepted_at timestamptz,
  accepted_by text,
  created_at timestamptz NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS invitations_pending_idx ON invitations(tenant_id) WHERE accepted_at IS NULL`,
}

// EnsureSchema creates the invitations table and its row policies. Run it after
// tenants.EnsureSchema, which owns the referenced table and the policy helpers.
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	stmts := append([]string{}, schema...)
	stmts = append(stmts, policy.TableDDL(policy.InvitationsTable)...)
	for _, s := range stmts {
		if _, err := dbPool.Exec(ctx, s); err != nil {
			return fmt.Errorf("ensure invitations schema: %w", err)
		}
	}
	return nil
}

const invCols = `id,tenant_id,email,role,invited_by,token,expires_at,accepted_at,COALESCE(accepted_by,''),created_at`

func scanInvitation(row pgx.Row) (Invitation, error) {
	var inv Invitation
	var role string
	err := row.Scan(&inv.ID, &inv.TenantID, &inv.Email, &role, &inv.InvitedBy, &inv.Token,
		&inv.ExpiresAt, &inv.AcceptedAt, &inv.AcceptedBy, &inv.CreatedAt)
	inv.Role = roles.Role(role)
	return inv, err
}

func (p *PostgresStore) Create(ctx context.Context, inv Invitation) (Invitation, error) {
	out, err := scanInvitation(p.dbPool.QueryRow(ctx, `INSERT INTO invitations(id,tenant_id,email,role,invited_by,token,expires_at,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING `+invCols,
		inv.ID, inv.TenantID, inv.Email, string(inv.Role), inv.InvitedBy, inv.Token, inv.ExpiresAt, inv.CreatedAt))
	if err != nil {
		return Invitation{}, fmt.Errorf("create invitation: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) ListPending(ctx context.Context, tenantID string, now time.Time) ([]Invitation, error) {
	rows, err := p.dbPool.Query(ctx, `SELECT `+invCols+` FROM invitations
		WHERE tenant_id=$1 AND accepted_at IS NULL AND expires_at > $2 ORDER BY created_at`, tenantID, now)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()
	var out []Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Accept(ctx context.Context, token, userID, email string, now time.Time) (Acceptance, error) {
	var res Acceptance
	err := pgx.BeginFunc(ctx, p.dbPool, func(tx pgx.Tx) error {
		inv, err := scanInvitation(tx.QueryRow(ctx, `SELECT `+invCols+` FROM invitations
			WHERE token=$1 AND accepted_at IS NULL AND expires_at > $2 FOR UPDATE`, token, now))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInvalidOrExpired
		}
		if err != nil {
			return err
		}
		created, err := tenants.AddMemberTx(ctx, tx, tenants.Membership{
			TenantID: inv.TenantID, UserID: userID, Email: email, Role: inv.Role,
		})
		if err != nil {
			return err
		}
		at := now.UTC()
		if _, err := tx.Exec(ctx, `UPDATE invitations SET accepted_at=$2, accepted_by=$3 WHERE id=$1`, inv.ID, at, userID); err != nil {
			return err
		}
		inv.AcceptedAt = &at
		inv.AcceptedBy = userID

		var role string
		if err := tx.QueryRow(ctx, `SELECT tenant_id,user_id,email,role,created_at FROM memberships WHERE tenant_id=$1 AND user_id=$2`,
			inv.TenantID, userID).Scan(&res.Membership.TenantID, &res.Membership.UserID, &res.Membership.Email, &role, &res.Membership.CreatedAt); err != nil {
			return err
		}
		res.Membership.Role = roles.Role(role)
		res.Invitation = inv
		res.Created = created
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidOrExpired) {
			return Acceptance{}, err
		}
		return Acceptance{}, fmt.Errorf("accept invitation: %w", err)
	}
	return res, nil
}
