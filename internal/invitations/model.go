// Package invitations implements the invite → accept lifecycle of tenant memberships.
//
// An invitation is pending until accepted or until its expiry passes. Expiry is computed
// at read time and never written; acceptance sets accepted_at exactly once.
package invitations

import (
	"time"

	"gatehouse/pkg/problems"
	"gatehouse/pkg/roles"
	"gatehouse/pkg/tenants"
)

// ErrInvalidOrExpired covers unknown, expired and already accepted tokens alike.
var ErrInvalidOrExpired = problems.ErrInvalidOrExpired

type State string

const (
	Pending  State = "pending"
	Accepted State = "accepted"
	Expired  State = "expired"
)

type Invitation struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	Email      string     `json:"email"`
	Role       roles.Role `json:"role"`
	InvitedBy  string     `json:"invited_by"`
	Token      string     `json:"token,omitempty"`
	ExpiresAt  time.Time  `json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	AcceptedBy string     `json:"accepted_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// State at now. An invitation expires the instant now reaches ExpiresAt.
func (i Invitation) State(now time.Time) State {
	switch {
	case i.AcceptedAt != nil:
		return Accepted
	case !now.Before(i.ExpiresAt):
		return Expired
	}
	return Pending
}

// Redacted drops the token for listings.
func (i Invitation) Redacted() Invitation {
	i.Token = ""
	return i
}

// Acceptance is the outcome of a successful Accept.
type Acceptance struct {
	Invitation Invitation         `json:"invitation"`
	Membership tenants.Membership `json:"membership"`
	// Created is false when the principal was already a member; acceptance still succeeds.
	Created bool `json:"created"`
}
