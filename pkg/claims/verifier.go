package claims

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"gatehouse/pkg/config"
)

var (
	// ErrInvalidToken covers bad signatures, expiry, issuer and audience mismatches.
	ErrInvalidToken = errors.New("invalid token")
	// ErrUnavailable means the key set could not be fetched in time.
	ErrUnavailable = errors.New("key set unavailable")
)

// jwksCache caches JWKS sets per URL.
type jwksCache struct {
	mu   sync.RWMutex
	sets map[string]cachedJWKS
	now  func() time.Time
}

type cachedJWKS struct {
	set     jwk.Set
	expires time.Time
}

func (c *jwksCache) get(ctx context.Context, url string, ttl time.Duration) (jwk.Set, error) {
	c.mu.RLock()
	if e, ok := c.sets[url]; ok && c.now().Before(e.expires) {
		c.mu.RUnlock()
		return e.set, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sets == nil {
		c.sets = map[string]cachedJWKS{}
	}
	if e, ok := c.sets[url]; ok && c.now().Before(e.expires) {
		return e.set, nil
	}
	set, err := jwk.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	c.sets[url] = cachedJWKS{set: set, expires: c.now().Add(ttl)}
	return set, nil
}

// Verifier validates bearer credentials and decodes their claims.
// It only reads: the shared secret, or a cached remote key set. With a key set configured,
// credentials minted by this service's Issuer still verify against the shared secret.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
	skew     time.Duration
	jwksURL  string
	jwksTTL  time.Duration
	timeout  time.Duration
	cache    *jwksCache
	now      func() time.Time
}

func NewVerifier(cfg config.Config, opts ...Option) (*Verifier, error) {
	if len(cfg.JWTSecret) == 0 && cfg.JWKSURL == "" {
		return nil, fmt.Errorf("%w: JWT_SECRET or JWKS_URL", config.ErrMisconfiguration)
	}
	o := buildOptions(opts)
	return &Verifier{
		secret:   []byte(cfg.JWTSecret),
		issuer:   strings.TrimRight(cfg.Issuer, "/"),
		audience: cfg.Audience,
		skew:     cfg.ClockSkew,
		jwksURL:  cfg.JWKSURL,
		jwksTTL:  6 * time.Hour,
		timeout:  cfg.LookupTimeout,
		cache:    &jwksCache{now: o.now},
		now:      o.now,
	}, nil
}

// Verify checks signature, expiry, issuer and audience of raw.
func (v *Verifier) Verify(ctx context.Context, raw string) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, ErrInvalidToken
	}
	parseOpts := []jwt.ParseOption{
		jwt.WithValidate(true),
		jwt.WithVerify(true),
		jwt.WithAcceptableSkew(v.skew),
		jwt.WithClock(jwt.ClockFunc(v.now)),
	}
	if v.issuer != "" {
		parseOpts = append(parseOpts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		parseOpts = append(parseOpts, jwt.WithAudience(v.audience))
	}
	if v.jwksURL != "" && !v.signedLocally(raw) {
		fetchCtx := ctx
		if v.timeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(ctx, v.timeout)
			defer cancel()
		}
		set, err := v.cache.get(fetchCtx, v.jwksURL, v.jwksTTL)
		if err != nil {
			return Claims{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		parseOpts = append(parseOpts, jwt.WithKeySet(set))
	} else {
		parseOpts = append(parseOpts, jwt.WithKey(jwa.HS256, v.secret))
	}

	jt, err := jwt.Parse([]byte(raw), parseOpts...)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if jt.Subject() == "" {
		return Claims{}, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	return fromToken(ctx, jt), nil
}

// signedLocally reports whether raw carries the header shape the Issuer produces: a single
// HS256 signature without a key id. Such tokens are checked against the shared secret even
// when a remote key set is configured.
func (v *Verifier) signedLocally(raw string) bool {
	if len(v.secret) == 0 {
		return false
	}
	msg, err := jws.Parse([]byte(raw))
	if err != nil || len(msg.Signatures()) != 1 {
		return false
	}
	h := msg.Signatures()[0].ProtectedHeaders()
	return h.Algorithm() == jwa.HS256 && h.KeyID() == ""
}

func fromToken(ctx context.Context, jt jwt.Token) Claims {
	c := Claims{
		Subject:   jt.Subject(),
		IssuedAt:  jt.IssuedAt(),
		ExpiresAt: jt.Expiration(),
	}
	if v, ok := jt.Get("email"); ok {
		c.Email, _ = v.(string)
	}
	if v, ok := jt.Get("role"); ok {
		c.Role, _ = v.(string)
	}
	if v, ok := jt.Get("app_metadata"); ok {
		c.AppMetadata = appMetadataFrom(v)
	}
	if m, err := jt.AsMap(ctx); err == nil {
		c.Raw = m
	}
	return c
}
