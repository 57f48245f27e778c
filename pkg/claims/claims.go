// Package claims issues, verifies and stores the custom claims carried by user credentials.
//
// A credential is an HS256 (or JWKS-verified) JWT shaped like
//
//	{"sub": "...", "email": "...", "role": "authenticated",
//	 "app_metadata": {"tenant_id": "...", "tenant_role": "admin"}, "iat": ..., "exp": ...}
//
// Claims embedded in an issued credential never change. Selecting a tenant writes new
// AppMetadata to the Store; the caller observes it only after refreshing its credential.
package claims

import (
	"encoding/json"
	"time"

	"gatehouse/pkg/roles"
)

// RoleAuthenticated is the database role claim carried by every user credential.
const RoleAuthenticated = "authenticated"

// AppMetadata is the per-principal custom claims payload.
type AppMetadata struct {
	TenantID   string     `json:"tenant_id,omitempty"`
	TenantRole roles.Role `json:"tenant_role,omitempty"`
}

func (m AppMetadata) IsZero() bool { return m.TenantID == "" && m.TenantRole == roles.None }

// Claims is a decoded, validated credential.
type Claims struct {
	Subject     string         `json:"sub"`
	Email       string         `json:"email,omitempty"`
	Role        string         `json:"role,omitempty"`
	AppMetadata AppMetadata    `json:"app_metadata"`
	IssuedAt    time.Time      `json:"-"`
	ExpiresAt   time.Time      `json:"-"`
	Raw         map[string]any `json:"-"`
}

// JSON renders the claims the way row-level predicates read them from request.jwt.claims.
func (c Claims) JSON() string {
	b, err := json.Marshal(c)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func appMetadataFrom(v any) AppMetadata {
	m, ok := v.(map[string]any)
	if !ok {
		return AppMetadata{}
	}
	var md AppMetadata
	if s, ok := m["tenant_id"].(string); ok {
		md.TenantID = s
	}
	if s, ok := m["tenant_role"].(string); ok {
		md.TenantRole = roles.Role(s)
	}
	return md
}

func (m AppMetadata) asMap() map[string]any {
	out := map[string]any{}
	if m.TenantID != "" {
		out["tenant_id"] = m.TenantID
	}
	if m.TenantRole != roles.None {
		out["tenant_role"] = string(m.TenantRole)
	}
	return out
}
