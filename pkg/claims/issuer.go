package claims

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"gatehouse/pkg/config"
)

type options struct {
	now func() time.Time
}

type Option func(*options)

// WithClock overrides time.Now for issuance and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Token is a freshly signed credential.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int       `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
	Claims      Claims    `json:"-"`
}

// Issuer signs claims with the shared HS256 secret.
type Issuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

func NewIssuer(cfg config.Config, opts ...Option) (*Issuer, error) {
	if len(cfg.JWTSecret) == 0 {
		return nil, fmt.Errorf("%w: JWT_SECRET", config.ErrMisconfiguration)
	}
	o := buildOptions(opts)
	return &Issuer{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.AccessTokenTTL,
		now:      o.now,
	}, nil
}

// TTL is the natural lifetime of every issued credential, which bounds claim staleness.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue signs a credential for c.Subject carrying c.Email and c.AppMetadata.
func (i *Issuer) Issue(c Claims) (Token, error) {
	if c.Subject == "" {
		return Token{}, errors.New("issue: empty subject")
	}
	now := i.now().UTC().Truncate(time.Second)
	exp := now.Add(i.ttl)
	b := jwt.NewBuilder().
		JwtID(uuid.NewString()).
		Subject(c.Subject).
		Issuer(i.issuer).
		IssuedAt(now).
		Expiration(exp).
		Claim("role", RoleAuthenticated).
		Claim("app_metadata", c.AppMetadata.asMap())
	if i.audience != "" {
		b = b.Audience([]string{i.audience})
	}
	if c.Email != "" {
		b = b.Claim("email", c.Email)
	}
	tok, err := b.Build()
	if err != nil {
		return Token{}, fmt.Errorf("issue: build: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, i.secret))
	if err != nil {
		return Token{}, fmt.Errorf("issue: sign: %w", err)
	}
	c.Role = RoleAuthenticated
	c.IssuedAt = now
	c.ExpiresAt = exp
	return Token{
		AccessToken: string(signed),
		TokenType:   "bearer",
		ExpiresIn:   int(i.ttl / time.Second),
		ExpiresAt:   exp,
		Claims:      c,
	}, nil
}
