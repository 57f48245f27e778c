package invitations

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse/pkg/authctx"
	"gatehouse/pkg/claims"
	"gatehouse/pkg/config"
	"gatehouse/pkg/db"
	"gatehouse/pkg/logger"
	"gatehouse/pkg/problems"
	"gatehouse/pkg/roles"
	"gatehouse/pkg/tenants"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recorder struct {
	mu    sync.Mutex
	sent  []Notification
	fail  bool
	calls atomic.Int32
}

func (r *recorder) Notify(_ context.Context, n Notification) error {
	r.calls.Add(1)
	if r.fail {
		return errors.New("mailer down")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

type fixture struct {
	members  *tenants.MemoryStore
	store    *MemoryStore
	svc      *Service
	clock    *clock
	notifier *recorder
	tenant   tenants.Tenant
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		members:  tenants.NewMemoryStore(),
		clock:    &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		notifier: &recorder{},
	}
	f.store = NewMemoryStore(f.members)
	cfg := config.Config{InvitationTTL: 7 * 24 * time.Hour, LookupTimeout: time.Second}
	f.svc = NewService(cfg, f.store, f.members, f.notifier, logger.Nop(), WithClock(f.clock.Now))
	var err error
	f.tenant, err = f.members.CreateTenant(context.Background(), tenants.Tenant{Name: "Acme", Slug: "acme"},
		tenants.Membership{UserID: "owner", Email: "owner@example.com", Role: roles.Owner})
	require.NoError(t, err)
	return f
}

func user(id, tenantID string, role roles.Role) authctx.Principal {
	return authctx.Principal{
		ID:       id,
		Email:    id + "@example.com",
		Strategy: authctx.User,
		Claims:   claims.Claims{Subject: id, AppMetadata: claims.AppMetadata{TenantID: tenantID, TenantRole: role}},
	}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := user("owner", f.tenant.ID, roles.Owner)

	inv, err := f.svc.Create(ctx, owner, f.tenant.ID, "New.Person@Example.com", "member")
	require.NoError(t, err)
	assert.Len(t, inv.Token, 64)
	assert.Equal(t, "new.person@example.com", inv.Email)
	assert.Equal(t, roles.Member, inv.Role)
	assert.Equal(t, "owner", inv.InvitedBy)
	assert.True(t, f.clock.Now().Add(7*24*time.Hour).Equal(inv.ExpiresAt))
	assert.Equal(t, Pending, inv.State(f.clock.Now()))

	f.svc.Wait()
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, Notification{Email: "new.person@example.com", Token: inv.Token, TenantID: f.tenant.ID}, f.notifier.sent[0])

	other, err := f.svc.Create(ctx, owner, f.tenant.ID, "second@example.com", "viewer")
	require.NoError(t, err)
	assert.NotEqual(t, inv.Token, other.Token)
}

func TestCreateRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	admin := user("adm", f.tenant.ID, roles.Admin)

	cases := []struct {
		name   string
		actor  authctx.Principal
		tenant string
		email  string
		role   string
		err    error
	}{
		{"member inviter", user("m", f.tenant.ID, roles.Member), f.tenant.ID, "x@example.com", "viewer", problems.ErrForbidden},
		{"viewer inviter", user("v", f.tenant.ID, roles.Viewer), f.tenant.ID, "x@example.com", "viewer", problems.ErrForbidden},
		{"other tenant admin", user("adm", "elsewhere", roles.Admin), f.tenant.ID, "x@example.com", "viewer", problems.ErrForbidden},
		{"above own role", admin, f.tenant.ID, "x@example.com", "owner", problems.ErrForbidden},
		{"already member", admin, f.tenant.ID, "OWNER@example.com", "viewer", problems.ErrAlreadyMember},
		{"bad role", admin, f.tenant.ID, "x@example.com", "superuser", problems.ErrBadRequest},
		{"bad email", admin, f.tenant.ID, "not-an-email", "viewer", problems.ErrBadRequest},
		{"bad role from non-admin", user("m", f.tenant.ID, roles.Member), f.tenant.ID, "x@example.com", "superuser", problems.ErrForbidden},
		{"bad email from outsider", user("o", "elsewhere", roles.Owner), f.tenant.ID, "not-an-email", "viewer", problems.ErrForbidden},
		{"service caller", authctx.Principal{Strategy: authctx.Private}, f.tenant.ID, "x@example.com", "viewer", problems.ErrUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tc.actor, tc.tenant, tc.email, tc.role)
			assert.ErrorIs(t, err, tc.err)
		})
	}
	f.svc.Wait()
	assert.Zero(t, f.notifier.calls.Load())
}

func TestCreateSurvivesNotifierFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.notifier.fail = true
	inv, err := f.svc.Create(ctx, user("owner", f.tenant.ID, roles.Owner), f.tenant.ID, "x@example.com", "viewer")
	require.NoError(t, err)
	f.svc.Wait()
	assert.Equal(t, int32(1), f.notifier.calls.Load())

	pending, err := f.svc.List(ctx, user("owner", f.tenant.ID, roles.Owner), f.tenant.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, inv.ID, pending[0].ID)
	assert.Empty(t, pending[0].Token, "listing never exposes tokens")
}

func TestAccept(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	inv, err := f.svc.Create(ctx, user("owner", f.tenant.ID, roles.Owner), f.tenant.ID, "newbie@example.com", "admin")
	require.NoError(t, err)

	res, err := f.svc.Accept(ctx, user("newbie", "", roles.None), inv.Token)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, roles.Admin, res.Membership.Role)
	require.NotNil(t, res.Invitation.AcceptedAt)
	assert.Equal(t, "newbie", res.Invitation.AcceptedBy)
	assert.Empty(t, res.Invitation.Token)

	m, err := f.members.GetMembership(ctx, f.tenant.ID, "newbie")
	require.NoError(t, err)
	assert.Equal(t, roles.Admin, m.Role)

	_, err = f.svc.Accept(ctx, user("newbie", "", roles.None), inv.Token)
	assert.ErrorIs(t, err, problems.ErrInvalidOrExpired, "accepted_at is set once")

	pending, err := f.svc.List(ctx, user("owner", f.tenant.ID, roles.Owner), f.tenant.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestAcceptExistingMemberIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.members.AddMember(ctx, tenants.Membership{TenantID: f.tenant.ID, UserID: "dup", Role: roles.Viewer})
	require.NoError(t, err)
	inv, err := f.svc.Create(ctx, user("owner", f.tenant.ID, roles.Owner), f.tenant.ID, "someone@example.com", "admin")
	require.NoError(t, err)

	res, err := f.svc.Accept(ctx, user("dup", "", roles.None), inv.Token)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, roles.Viewer, res.Membership.Role, "existing membership untouched")
}

func TestAcceptRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	inv, err := f.svc.Create(ctx, user("owner", f.tenant.ID, roles.Owner), f.tenant.ID, "late@example.com", "viewer")
	require.NoError(t, err)

	_, err = f.svc.Accept(ctx, user("late", "", roles.None), "")
	assert.ErrorIs(t, err, problems.ErrInvalidOrExpired)
	_, err = f.svc.Accept(ctx, user("late", "", roles.None), "deadbeef")
	assert.ErrorIs(t, err, problems.ErrInvalidOrExpired)
	_, err = f.svc.Accept(ctx, authctx.Principal{Strategy: authctx.Private}, inv.Token)
	assert.ErrorIs(t, err, problems.ErrUnauthorized)

	// Exactly at expires_at the invitation is expired, even though accepted_at is null.
	f.clock.Advance(7 * 24 * time.Hour)
	assert.Equal(t, Expired, inv.State(f.clock.Now()))
	_, err = f.svc.Accept(ctx, user("late", "", roles.None), inv.Token)
	assert.ErrorIs(t, err, problems.ErrInvalidOrExpired)
	_, err = f.members.GetMembership(ctx, f.tenant.ID, "late")
	assert.ErrorIs(t, err, tenants.ErrNotFound)
}

func TestConcurrentAcceptSucceedsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	inv, err := f.svc.Create(ctx, user("owner", f.tenant.ID, roles.Owner), f.tenant.ID, "race@example.com", "member")
	require.NoError(t, err)

	const n = 16
	var wins, losses atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Accept(ctx, user("racer", "", roles.None), inv.Token)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, problems.ErrInvalidOrExpired):
				losses.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(n-1), losses.Load())

	ms, err := f.members.ListMembers(ctx, db.Anonymous(nil), f.tenant.ID)
	require.NoError(t, err)
	assert.Len(t, ms, 2)
}

func TestListRequiresManageMembers(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.List(context.Background(), user("m", f.tenant.ID, roles.Member), f.tenant.ID)
	assert.ErrorIs(t, err, problems.ErrForbidden)
	_, err = f.svc.List(context.Background(), authctx.Principal{Strategy: authctx.Public}, f.tenant.ID)
	assert.ErrorIs(t, err, problems.ErrUnauthorized)
}

func TestInvitationState(t *testing.T) {
	now := time.Now()
	inv := Invitation{ExpiresAt: now.Add(time.Minute)}
	assert.Equal(t, Pending, inv.State(now))
	assert.Equal(t, Expired, inv.State(now.Add(time.Minute)))
	at := now
	inv.AcceptedAt = &at
	assert.Equal(t, Accepted, inv.State(now.Add(time.Hour)))
}

func TestRedisNotifier(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, "gatehouse:invitations")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	n := NewRedisNotifier(rdb, "gatehouse:invitations")
	want := Notification{Email: "a@example.com", Token: "tok", TenantID: "t1"}
	require.NoError(t, n.Notify(ctx, want))

	select {
	case msg := <-sub.Channel():
		var got Notification
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}

	assert.NoError(t, NewRedisNotifier(nil, "x").Notify(ctx, want))
}

func TestLogNotifier(t *testing.T) {
	assert.NoError(t, NewLogNotifier(logger.Nop()).Notify(context.Background(), Notification{Token: "0123456789abcdef"}))
}
