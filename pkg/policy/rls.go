package policy

import (
	"fmt"
	"strings"

	"gatehouse/pkg/db"
	"gatehouse/pkg/roles"
)

// Command is a SQL command a row-level policy applies to.
type Command string

const (
	Select    Command = "SELECT"
	Insert    Command = "INSERT"
	UpdateCmd Command = "UPDATE"
	DeleteCmd Command = "DELETE"
)

// Table describes how a table maps onto Resource facts. An empty column means the fact
// is absent for every row of the table.
type Table struct {
	Name         string
	OwnerColumn  string
	TenantColumn string
	Commands     map[Command]Operation
}

var (
	TenantsTable = Table{
		Name:         "tenants",
		TenantColumn: "id",
		Commands: map[Command]Operation{
			Select:    Read,
			UpdateCmd: Write,
			DeleteCmd: DestroyTenant,
		},
	}
	MembershipsTable = Table{
		Name:         "memberships",
		OwnerColumn:  "user_id",
		TenantColumn: "tenant_id",
		Commands: map[Command]Operation{
			Select:    Read,
			Insert:    ManageMembers,
			UpdateCmd: ManageMembers,
			DeleteCmd: Delete,
		},
	}
	InvitationsTable = Table{
		Name:         "invitations",
		TenantColumn: "tenant_id",
		Commands: map[Command]Operation{
			Select:    ManageMembers,
			Insert:    ManageMembers,
			UpdateCmd: ManageMembers,
		},
	}
)

var commandOrder = []Command{Select, Insert, UpdateCmd, DeleteCmd}

// FunctionsDDL creates the database roles the scoped handle switches to and the app.*
// helper functions every row policy calls. Idempotent.
func FunctionsDDL() []string {
	var roleCase, opCase strings.Builder
	for _, r := range roles.All {
		fmt.Fprintf(&roleCase, " WHEN '%s' THEN %d", r, roles.Ordinal(r))
	}
	for _, op := range Operations {
		min, _ := Threshold(op)
		fmt.Fprintf(&opCase, " WHEN '%s' THEN %d", op, roles.Ordinal(min))
	}
	unknownOp := roles.Ordinal(roles.Owner) + 1

	return []string{
		`CREATE SCHEMA IF NOT EXISTS app`,
		fmt.Sprintf(`DO $$ BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = '%[1]s') THEN CREATE ROLE %[1]s NOLOGIN; END IF;
  IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = '%[2]s') THEN CREATE ROLE %[2]s NOLOGIN; END IF;
END $$`, db.RoleAnon, db.RoleAuthenticated),
		fmt.Sprintf(`GRANT %s, %s TO CURRENT_USER`, db.RoleAnon, db.RoleAuthenticated),
		fmt.Sprintf(`GRANT USAGE ON SCHEMA app TO %s, %s`, db.RoleAnon, db.RoleAuthenticated),
		`CREATE OR REPLACE FUNCTION app.jwt_claims() RETURNS jsonb LANGUAGE sql STABLE AS $$
  SELECT COALESCE(NULLIF(current_setting('request.jwt.claims', true), ''), '{}')::jsonb
$$`,
		`CREATE OR REPLACE FUNCTION app.uid() RETURNS text LANGUAGE sql STABLE AS $$
  SELECT COALESCE(app.jwt_claims()->>'sub', '')
$$`,
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION app.role_level(r text) RETURNS int LANGUAGE sql IMMUTABLE AS $$
  SELECT CASE r%s ELSE 0 END
$$`, roleCase.String()),
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION app.op_threshold(op text) RETURNS int LANGUAGE sql IMMUTABLE AS $$
  SELECT CASE op%s ELSE %d END
$$`, opCase.String(), unknownOp),
		`CREATE OR REPLACE FUNCTION app.can_access(owner_id text, tenant_id text, public_read boolean, op text) RETURNS boolean LANGUAGE sql STABLE AS $$
  SELECT CASE
    WHEN app.op_threshold(op) > ` + fmt.Sprint(roles.Ordinal(roles.Owner)) + ` THEN false
    WHEN op = 'read' AND COALESCE(owner_id, '') <> '' AND owner_id = app.uid() THEN true
    WHEN COALESCE(tenant_id, '') <> '' THEN
      COALESCE(app.jwt_claims()->'app_metadata'->>'tenant_id', '') = tenant_id
      AND app.role_level(app.jwt_claims()->'app_metadata'->>'tenant_role') > 0
      AND app.role_level(app.jwt_claims()->'app_metadata'->>'tenant_role') >= app.op_threshold(op)
    ELSE op = 'read' AND COALESCE(public_read, false)
  END
$$`,
	}
}

// TableDDL enables row-level security on t and (re)creates one policy per command.
func TableDDL(t Table) []string {
	out := []string{
		fmt.Sprintf(`ALTER TABLE %s ENABLE ROW LEVEL SECURITY`, t.Name),
		fmt.Sprintf(`GRANT SELECT, INSERT, UPDATE, DELETE ON %s TO %s`, t.Name, db.RoleAuthenticated),
		fmt.Sprintf(`GRANT SELECT ON %s TO %s`, t.Name, db.RoleAnon),
	}
	for _, cmd := range commandOrder {
		op, ok := t.Commands[cmd]
		if !ok {
			continue
		}
		name := fmt.Sprintf("%s_%s", t.Name, strings.ToLower(string(cmd)))
		pred := t.predicate(op)
		out = append(out, fmt.Sprintf(`DROP POLICY IF EXISTS %s ON %s`, name, t.Name))
		var clause string
		switch cmd {
		case Insert:
			clause = fmt.Sprintf("WITH CHECK (%s)", pred)
		case UpdateCmd:
			clause = fmt.Sprintf("USING (%s) WITH CHECK (%s)", pred, pred)
		default:
			clause = fmt.Sprintf("USING (%s)", pred)
		}
		out = append(out, fmt.Sprintf(`CREATE POLICY %s ON %s FOR %s %s`, name, t.Name, cmd, clause))
	}
	return out
}

func (t Table) predicate(op Operation) string {
	col := func(c string) string {
		if c == "" {
			return "NULL"
		}
		return c + "::text"
	}
	return fmt.Sprintf("app.can_access(%s, %s, false, '%s')", col(t.OwnerColumn), col(t.TenantColumn), op)
}

// RowLevelSecurityDDL is the full mirror: helpers plus the policies of every table.
func RowLevelSecurityDDL() []string {
	out := FunctionsDDL()
	for _, t := range []Table{TenantsTable, MembershipsTable, InvitationsTable} {
		out = append(out, TableDDL(t)...)
	}
	return out
}
