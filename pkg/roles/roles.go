// Package roles holds the tenant role hierarchy.
package roles

import (
	"fmt"
	"strings"
)

// Role is a tenant membership role. The zero value means "no role".
type Role string

const (
	None   Role = ""
	Viewer Role = "viewer"
	Member Role = "member"
	Admin  Role = "admin"
	Owner  Role = "owner"
)

// All lists the roles from lowest to highest.
var All = []Role{Viewer, Member, Admin, Owner}

// Ordinal returns the level of r; absent or unknown roles are 0.
func Ordinal(r Role) int {
	switch r {
	case Viewer:
		return 1
	case Member:
		return 2
	case Admin:
		return 3
	case Owner:
		return 4
	}
	return 0
}

// HasRole reports whether actual meets minimum. An absent actual role never does.
func HasRole(actual, minimum Role) bool {
	a := Ordinal(actual)
	return a > 0 && a >= Ordinal(minimum)
}

func (r Role) Valid() bool { return Ordinal(r) > 0 }

func (r Role) String() string { return string(r) }

// Parse accepts a role name case-insensitively.
func Parse(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return None, fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}
