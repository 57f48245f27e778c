// pkg/tenants/memory.go
package tenants

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"gatehouse/pkg/db"
	"gatehouse/pkg/roles"
)

// MemoryStore keeps tenants in process; used when DATABASE_URL is unset and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]Tenant
	slugs   map[string]string
	members map[string]map[string]Membership // tenant -> user
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants: map[string]Tenant{},
		slugs:   map[string]string{},
		members: map[string]map[string]Membership{},
		now:     time.Now,
	}
}

func (m *MemoryStore) CreateTenant(_ context.Context, t Tenant, owner Membership) (Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.Slug = NormalizeSlug(t.Slug)
	if _, taken := m.slugs[t.Slug]; taken {
		return Tenant{}, ErrSlugTaken
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, exists := m.tenants[t.ID]; exists {
		return Tenant{}, ErrSlugTaken
	}
	t.CreatedAt = m.now().UTC()
	m.tenants[t.ID] = t
	m.slugs[t.Slug] = t.ID
	owner.TenantID = t.ID
	owner.Email = NormalizeEmail(owner.Email)
	owner.CreatedAt = t.CreatedAt
	m.members[t.ID] = map[string]Membership{owner.UserID: owner}
	return t, nil
}

func (m *MemoryStore) GetTenant(_ context.Context, tenantID string) (Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[tenantID]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return t, nil
}

func (m *MemoryStore) GetMembership(_ context.Context, tenantID, userID string) (Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.members[tenantID][userID]
	if !ok {
		return Membership{}, ErrNotFound
	}
	return ms, nil
}

func (m *MemoryStore) FindMemberByEmail(_ context.Context, tenantID, email string) (Membership, error) {
	email = NormalizeEmail(email)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ms := range m.members[tenantID] {
		if email != "" && ms.Email == email {
			return ms, nil
		}
	}
	return Membership{}, ErrNotFound
}

// ListMembers ignores h: there are no row predicates in memory.
func (m *MemoryStore) ListMembers(_ context.Context, _ db.Handle, tenantID string) ([]Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Membership, 0, len(m.members[tenantID]))
	for _, ms := range m.members[tenantID] {
		out = append(out, ms)
	}
	sortMembers(out)
	return out, nil
}

func (m *MemoryStore) ListUserTenants(_ context.Context, userID string) ([]UserTenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []UserTenant
	for tid, byUser := range m.members {
		if ms, ok := byUser[userID]; ok {
			out = append(out, UserTenant{Tenant: m.tenants[tid], Role: ms.Role})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (m *MemoryStore) AddMember(_ context.Context, ms Membership) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[ms.TenantID]; !ok {
		return false, ErrNotFound
	}
	if _, exists := m.members[ms.TenantID][ms.UserID]; exists {
		return false, nil
	}
	ms.Email = NormalizeEmail(ms.Email)
	ms.CreatedAt = m.now().UTC()
	m.members[ms.TenantID][ms.UserID] = ms
	return true, nil
}

func (m *MemoryStore) UpdateRole(_ context.Context, tenantID, userID string, role roles.Role) (Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.members[tenantID][userID]
	if !ok {
		return Membership{}, ErrNotFound
	}
	if ms.Role == roles.Owner && role != roles.Owner && m.ownersLocked(tenantID) <= 1 {
		return Membership{}, ErrLastOwner
	}
	ms.Role = role
	m.members[tenantID][userID] = ms
	return ms, nil
}

func (m *MemoryStore) RemoveMember(_ context.Context, tenantID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.members[tenantID][userID]
	if !ok {
		return ErrNotFound
	}
	if ms.Role == roles.Owner && m.ownersLocked(tenantID) <= 1 {
		return ErrLastOwner
	}
	delete(m.members[tenantID], userID)
	return nil
}

func (m *MemoryStore) ownersLocked(tenantID string) int {
	n := 0
	for _, ms := range m.members[tenantID] {
		if ms.Role == roles.Owner {
			n++
		}
	}
	return n
}

func sortMembers(ms []Membership) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Email != ms[j].Email {
			return ms[i].Email < ms[j].Email
		}
		return ms[i].UserID < ms[j].UserID
	})
}
