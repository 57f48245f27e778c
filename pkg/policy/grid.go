package policy

import (
	"context"
	"fmt"

	"gatehouse/pkg/authctx"
	"gatehouse/pkg/claims"
	"gatehouse/pkg/roles"
)

// Case is one point of the evaluation grid.
type Case struct {
	Principal authctx.Principal
	Resource  Resource
	Operation Operation
}

func (c Case) String() string {
	return fmt.Sprintf("principal{id=%q tenant=%q role=%q} resource{owner=%q tenant=%q public=%t} op=%s",
		c.Principal.ID, c.Principal.TenantID(), c.Principal.TenantRole(),
		c.Resource.OwnerID, c.Resource.TenantID, c.Resource.PublicRead, c.Operation)
}

// Grid enumerates principals, resources and operations covering every rule and its
// boundaries, including unknown roles and operations.
func Grid() []Case {
	ids := []string{"", "u1"}
	tenants := []string{"", "t1", "t2"}
	roleNames := append([]roles.Role{roles.None, "root"}, roles.All...)
	ops := append(append([]Operation(nil), Operations...), "bogus")

	var principals []authctx.Principal
	for _, id := range ids {
		for _, t := range tenants {
			for _, r := range roleNames {
				principals = append(principals, authctx.Principal{
					ID:       id,
					Strategy: authctx.User,
					Claims: claims.Claims{
						Subject:     id,
						AppMetadata: claims.AppMetadata{TenantID: t, TenantRole: r},
					},
				})
			}
		}
	}
	var resources []Resource
	for _, owner := range []string{"", "u1", "u2"} {
		for _, t := range []string{"", "t1"} {
			for _, pub := range []bool{false, true} {
				resources = append(resources, Resource{OwnerID: owner, TenantID: t, PublicRead: pub})
			}
		}
	}

	out := make([]Case, 0, len(principals)*len(resources)*len(ops))
	for _, p := range principals {
		for _, r := range resources {
			for _, op := range ops {
				out = append(out, Case{Principal: p, Resource: r, Operation: op})
			}
		}
	}
	return out
}

// Expected is the in-process answer for c, without recording metrics.
func (c Case) Expected() bool {
	return decide(c.Principal.ID, c.Principal.TenantID(), c.Principal.TenantRole(), c.Resource, c.Operation)
}

// CheckAgreement evaluates every grid case through the rego mirror and returns an error
// describing the first divergence from CanAccess.
func CheckAgreement(ctx context.Context, e *RegoEvaluator) error {
	for _, c := range Grid() {
		got, err := e.Allow(ctx, c.Principal, c.Resource, c.Operation)
		if err != nil {
			return err
		}
		if want := c.Expected(); got != want {
			return fmt.Errorf("rego mirror diverges: %s: rego=%t native=%t", c, got, want)
		}
	}
	return nil
}
