package tenants

import (
	"strings"
	"time"

	"gatehouse/pkg/roles"
)

// Tenant is an isolated account space.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership binds a user to a tenant with one role; unique per (TenantID, UserID).
type Membership struct {
	TenantID  string     `json:"tenant_id"`
	UserID    string     `json:"user_id"`
	Email     string     `json:"email,omitempty"`
	Role      roles.Role `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
}

// UserTenant is a tenant seen from one of its members.
type UserTenant struct {
	Tenant
	Role roles.Role `json:"role"`
}

// NormalizeSlug lowercases s and keeps [a-z0-9-], collapsing other runs into one dash.
func NormalizeSlug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// NormalizeEmail is the form emails are stored and compared in.
func NormalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
