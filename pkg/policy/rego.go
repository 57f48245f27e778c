package policy

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"gatehouse/pkg/authctx"
)

//go:embed authz.rego
var regoModule string

// RegoModule returns the embedded rego source.
func RegoModule() string { return regoModule }

// RegoEvaluator evaluates the rego mirror of CanAccess with a prepared query.
// Safe for concurrent use.
type RegoEvaluator struct {
	query rego.PreparedEvalQuery
}

func NewRegoEvaluator(ctx context.Context) (*RegoEvaluator, error) {
	pq, err := rego.New(
		rego.Query("data.gatehouse.authz.allow"),
		rego.Module("authz.rego", regoModule),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare rego: %w", err)
	}
	return &RegoEvaluator{query: pq}, nil
}

func (e *RegoEvaluator) Allow(ctx context.Context, p authctx.Principal, r Resource, op Operation) (bool, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(regoInput(p.ID, p.TenantID(), string(p.TenantRole()), r, op)))
	if err != nil {
		return false, fmt.Errorf("eval rego: %w", err)
	}
	return rs.Allowed(), nil
}

func regoInput(id, tenantID, role string, r Resource, op Operation) map[string]any {
	return map[string]any{
		"principal": map[string]any{
			"id":          id,
			"tenant_id":   tenantID,
			"tenant_role": role,
		},
		"resource": map[string]any{
			"owner_id":    r.OwnerID,
			"tenant_id":   r.TenantID,
			"public_read": r.PublicRead,
		},
		"operation": string(op),
	}
}
