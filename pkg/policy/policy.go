// Package policy decides whether a principal may perform an operation on a resource.
//
// CanAccess is the engine-independent predicate. The rego module and the generated
// row-level security DDL are mirrors of it and are checked against it over the full
// principal × resource × operation grid.
package policy

import (
	"gatehouse/pkg/authctx"
	"gatehouse/pkg/metrics"
	"gatehouse/pkg/roles"
)

type Operation string

const (
	Read          Operation = "read"
	Write         Operation = "write"
	Create        Operation = "create"
	ManageMembers Operation = "manage_members"
	Delete        Operation = "delete"
	DestroyTenant Operation = "destroy_tenant"
)

// Operations lists every known operation class in threshold order.
var Operations = []Operation{Read, Write, Create, ManageMembers, Delete, DestroyTenant}

var thresholds = map[Operation]roles.Role{
	Read:          roles.Viewer,
	Write:         roles.Member,
	Create:        roles.Member,
	ManageMembers: roles.Admin,
	Delete:        roles.Admin,
	DestroyTenant: roles.Owner,
}

// Threshold returns the minimum tenant role for op; ok is false for unknown operations.
func Threshold(op Operation) (roles.Role, bool) {
	r, ok := thresholds[op]
	return r, ok
}

func (op Operation) Valid() bool {
	_, ok := thresholds[op]
	return ok
}

// Resource carries the ownership and tenancy facts of the thing being accessed.
// Empty OwnerID and TenantID mean "not owned" and "not tenant-scoped".
type Resource struct {
	OwnerID    string `json:"owner_id"`
	TenantID   string `json:"tenant_id"`
	PublicRead bool   `json:"public_read"`
}

// TenantResource is the resource view of a tenant itself.
func TenantResource(tenantID string) Resource { return Resource{TenantID: tenantID} }

// CanAccess applies the rules in order, first applicable decides:
// owner read, tenant match, role threshold, public read. Everything else is denied.
func CanAccess(p authctx.Principal, r Resource, op Operation) bool {
	ok := decide(p.ID, p.TenantID(), p.TenantRole(), r, op)
	label := string(op)
	if !op.Valid() {
		label = "unknown"
	}
	decision := "deny"
	if ok {
		decision = "allow"
	}
	metrics.PolicyDecisions.WithLabelValues(label, decision).Inc()
	return ok
}

func decide(principalID, tenantID string, role roles.Role, r Resource, op Operation) bool {
	min, known := thresholds[op]
	if !known {
		return false
	}
	if op == Read && r.OwnerID != "" && r.OwnerID == principalID {
		return true
	}
	if r.TenantID != "" {
		if tenantID != r.TenantID {
			return false
		}
		return roles.HasRole(role, min)
	}
	return op == Read && r.PublicRead
}
