package invitations

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gatehouse/pkg/authctx"
	"gatehouse/pkg/config"
	"gatehouse/pkg/logger"
	"gatehouse/pkg/metrics"
	"gatehouse/pkg/policy"
	"gatehouse/pkg/problems"
	"gatehouse/pkg/roles"
	"gatehouse/pkg/tenants"
)

// MemberLookup is the part of tenants.Store invitation creation reads.
type MemberLookup interface {
	GetTenant(ctx context.Context, tenantID string) (tenants.Tenant, error)
	FindMemberByEmail(ctx context.Context, tenantID, email string) (tenants.Membership, error)
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	store    Store
	members  MemberLookup
	notifier Notifier
	ttl      time.Duration
	timeout  time.Duration
	now      func() time.Time
	log      *zap.SugaredLogger
	wg       sync.WaitGroup
}

func NewService(cfg config.Config, store Store, members MemberLookup, n Notifier, log *zap.SugaredLogger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		members:  members,
		notifier: n,
		ttl:      cfg.InvitationTTL,
		timeout:  cfg.LookupTimeout,
		now:      time.Now,
		log:      logger.OrNop(log),
	}
	if s.ttl <= 0 {
		s.ttl = 7 * 24 * time.Hour
	}
	if s.timeout <= 0 {
		s.timeout = 5 * time.Second
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Create invites email into tenantID with role. The inviter needs manage_members on the
// tenant and cannot invite above their own role.
func (s *Service) Create(ctx context.Context, inviter authctx.Principal, tenantID, email, role string) (Invitation, error) {
	if !inviter.IsUser() {
		return Invitation{}, problems.ErrUnauthorized
	}
	if !policy.CanAccess(inviter, policy.TenantResource(tenantID), policy.ManageMembers) {
		return Invitation{}, problems.ErrForbidden
	}
	r, err := roles.Parse(role)
	if err != nil {
		return Invitation{}, fmt.Errorf("%v: %w", err, problems.ErrBadRequest)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return Invitation{}, fmt.Errorf("invalid email: %w", problems.ErrBadRequest)
	}
	email = tenants.NormalizeEmail(addr.Address)
	if !roles.HasRole(inviter.TenantRole(), r) {
		return Invitation{}, fmt.Errorf("cannot invite as %s: %w", r, problems.ErrForbidden)
	}
	if _, err := s.members.GetTenant(ctx, tenantID); err != nil {
		return Invitation{}, err
	}
	_, err = s.members.FindMemberByEmail(ctx, tenantID, email)
	switch {
	case err == nil:
		return Invitation{}, problems.ErrAlreadyMember
	case !errors.Is(err, tenants.ErrNotFound):
		return Invitation{}, err
	}

	token, err := generateToken()
	if err != nil {
		return Invitation{}, fmt.Errorf("invitation token: %w", err)
	}
	now := s.now().UTC()
	inv, err := s.store.Create(ctx, Invitation{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Email:     email,
		Role:      r,
		InvitedBy: inviter.ID,
		Token:     token,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	})
	if err != nil {
		return Invitation{}, err
	}
	metrics.Invitations.WithLabelValues("created").Inc()
	s.log.Infow("invitation created", "invitation_id", inv.ID, "tenant_id", tenantID, "role", r, "by", inviter.ID)
	s.notify(Notification{Email: email, Token: token, TenantID: tenantID})
	return inv, nil
}

// notify runs detached from the request; a failed dispatch never undoes the invitation.
func (s *Service) notify(n Notification) {
	if s.notifier == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.notifier.Notify(ctx, n); err != nil {
			metrics.Invitations.WithLabelValues("notify_failed").Inc()
			s.log.Warnw("invitation notification failed", "tenant_id", n.TenantID, "err", err)
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (s *Service) Wait() { s.wg.Wait() }

// Accept makes p a member with the invitation's role. Unknown, expired and used tokens
// are indistinguishable to the caller.
func (s *Service) Accept(ctx context.Context, p authctx.Principal, token string) (Acceptance, error) {
	if !p.IsUser() {
		return Acceptance{}, problems.ErrUnauthorized
	}
	if token == "" {
		return Acceptance{}, ErrInvalidOrExpired
	}
	res, err := s.store.Accept(ctx, token, p.ID, p.Email, s.now())
	if errors.Is(err, ErrInvalidOrExpired) {
		metrics.Invitations.WithLabelValues("rejected").Inc()
		return Acceptance{}, ErrInvalidOrExpired
	}
	if err != nil {
		return Acceptance{}, err
	}
	metrics.Invitations.WithLabelValues("accepted").Inc()
	s.log.Infow("invitation accepted", "invitation_id", res.Invitation.ID, "tenant_id", res.Invitation.TenantID,
		"user_id", p.ID, "created", res.Created)
	res.Invitation = res.Invitation.Redacted()
	return res, nil
}

// List returns the tenant's pending invitations without tokens.
func (s *Service) List(ctx context.Context, p authctx.Principal, tenantID string) ([]Invitation, error) {
	if !p.IsUser() {
		return nil, problems.ErrUnauthorized
	}
	if !policy.CanAccess(p, policy.TenantResource(tenantID), policy.ManageMembers) {
		return nil, problems.ErrForbidden
	}
	pending, err := s.store.ListPending(ctx, tenantID, s.now())
	if err != nil {
		return nil, err
	}
	out := make([]Invitation, 0, len(pending))
	for _, inv := range pending {
		out = append(out, inv.Redacted())
	}
	return out, nil
}
