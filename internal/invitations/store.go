package invitations

import (
	"context"
	"sort"
	"sync"
	"time"

	"gatehouse/pkg/tenants"
)

// Store persists invitations. Accept must be atomic: the pending lookup, the membership
// insert and the accepted_at write happen as one unit.
type Store interface {
	Create(ctx context.Context, inv Invitation) (Invitation, error)
	ListPending(ctx context.Context, tenantID string, now time.Time) ([]Invitation, error)
	Accept(ctx context.Context, token, userID, email string, now time.Time) (Acceptance, error)
}

// MemberAdder is the part of tenants.Store acceptance writes through.
type MemberAdder interface {
	AddMember(ctx context.Context, m tenants.Membership) (bool, error)
	GetMembership(ctx context.Context, tenantID, userID string) (tenants.Membership, error)
}

// MemoryStore guards lookup, membership insert and mark with one mutex.
type MemoryStore struct {
	mu      sync.Mutex
	byToken map[string]*Invitation
	members MemberAdder
}

func NewMemoryStore(members MemberAdder) *MemoryStore {
	return &MemoryStore{byToken: map[string]*Invitation{}, members: members}
}

func (s *MemoryStore) Create(_ context.Context, inv Invitation) (Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := inv
	s.byToken[inv.Token] = &cp
	return inv, nil
}

func (s *MemoryStore) ListPending(_ context.Context, tenantID string, now time.Time) ([]Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Invitation
	for _, inv := range s.byToken {
		if inv.TenantID == tenantID && inv.State(now) == Pending {
			out = append(out, *inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Accept(ctx context.Context, token, userID, email string, now time.Time) (Acceptance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.byToken[token]
	if !ok || inv.State(now) != Pending {
		return Acceptance{}, ErrInvalidOrExpired
	}
	created, err := s.members.AddMember(ctx, tenants.Membership{
		TenantID: inv.TenantID, UserID: userID, Email: email, Role: inv.Role,
	})
	if err != nil {
		return Acceptance{}, err
	}
	m, err := s.members.GetMembership(ctx, inv.TenantID, userID)
	if err != nil {
		return Acceptance{}, err
	}
	at := now.UTC()
	inv.AcceptedAt = &at
	inv.AcceptedBy = userID
	return Acceptance{Invitation: *inv, Membership: m, Created: created}, nil
}
