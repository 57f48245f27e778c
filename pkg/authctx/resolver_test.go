package authctx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse/pkg/claims"
	"gatehouse/pkg/config"
	"gatehouse/pkg/db"
	"gatehouse/pkg/problems"
	"gatehouse/pkg/roles"
)

const serviceKey = "svc-key-for-tests"

func testConfig() config.Config {
	return config.Config{
		JWTSecret:      strings.Repeat("s", 32),
		Issuer:         "gatehouse",
		Audience:       "authenticated",
		AccessTokenTTL: time.Hour,
		LookupTimeout:  time.Second,
		ServiceKey:     serviceKey,
	}
}

func newResolver(t *testing.T) (*Resolver, *claims.Issuer) {
	t.Helper()
	cfg := testConfig()
	iss, err := claims.NewIssuer(cfg)
	require.NoError(t, err)
	ver, err := claims.NewVerifier(cfg)
	require.NoError(t, err)
	r, err := NewResolver(cfg, ver, nil, nil)
	require.NoError(t, err)
	return r, iss
}

func bearer(t *testing.T, iss *claims.Issuer, c claims.Claims) string {
	t.Helper()
	tok, err := iss.Issue(c)
	require.NoError(t, err)
	return "Bearer " + tok.AccessToken
}

func TestNewResolverRequiresServiceKey(t *testing.T) {
	cfg := testConfig()
	cfg.ServiceKey = ""
	ver, err := claims.NewVerifier(cfg)
	require.NoError(t, err)
	_, err = NewResolver(cfg, ver, nil, nil)
	assert.ErrorIs(t, err, config.ErrMisconfiguration)
}

func TestResolvePublic(t *testing.T) {
	r, _ := newResolver(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	p, h, err := r.Resolve(context.Background(), req, MustAllowSet("public"))
	require.NoError(t, err)
	assert.Equal(t, Public, p.Strategy)
	assert.False(t, p.IsUser())
	assert.Equal(t, db.ScopeAnonymous, h.Scope())
}

func TestResolveUser(t *testing.T) {
	r, iss := newResolver(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", bearer(t, iss, claims.Claims{
		Subject:     "u-1",
		Email:       "ada@example.com",
		AppMetadata: claims.AppMetadata{TenantID: "t-1", TenantRole: roles.Member},
	}))

	p, h, err := r.Resolve(context.Background(), req, MustAllowSet("user"))
	require.NoError(t, err)
	assert.True(t, p.IsUser())
	assert.Equal(t, "u-1", p.ID)
	assert.Equal(t, "ada@example.com", p.Email)
	assert.Equal(t, "t-1", p.TenantID())
	assert.Equal(t, roles.Member, p.TenantRole())
	assert.Equal(t, db.ScopeUser, h.Scope())
}

func TestResolvePrivate(t *testing.T) {
	r, _ := newResolver(t)
	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	req.Header.Set(HeaderAPIKey, serviceKey)

	p, h, err := r.Resolve(context.Background(), req, MustAllowSet("user", "private"))
	require.NoError(t, err)
	assert.False(t, p.IsUser())
	assert.True(t, p.IsService())
	assert.Empty(t, p.ID)
	assert.True(t, h.IsPrivileged())
}

func TestResolveUserWinsWhenBothPresent(t *testing.T) {
	r, iss := newResolver(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", bearer(t, iss, claims.Claims{Subject: "u-2"}))
	req.Header.Set(HeaderAPIKey, serviceKey)

	p, _, err := r.Resolve(context.Background(), req, MustAllowSet("user", "private"))
	require.NoError(t, err)
	assert.True(t, p.IsUser())

	p, h, err := r.Resolve(context.Background(), req, MustAllowSet("private", "user"))
	require.NoError(t, err)
	assert.True(t, p.IsService())
	assert.True(t, h.IsPrivileged())
}

func TestResolveUnauthorized(t *testing.T) {
	r, iss := newResolver(t)
	other := testConfig()
	other.JWTSecret = strings.Repeat("x", 32)
	forged, err := claims.NewIssuer(other)
	require.NoError(t, err)

	cases := []struct {
		name    string
		allow   AllowSet
		headers map[string]string
	}{
		{"no credentials user", MustAllowSet("user"), nil},
		{"no credentials user private", MustAllowSet("user", "private"), nil},
		{"wrong secret", MustAllowSet("user"), map[string]string{"Authorization": bearer(t, forged, claims.Claims{Subject: "u"})}},
		{"wrong service key", MustAllowSet("private"), map[string]string{HeaderAPIKey: "nope"}},
		{"service key not allowed", MustAllowSet("user"), map[string]string{HeaderAPIKey: serviceKey}},
		{"bearer not allowed", MustAllowSet("private"), map[string]string{"Authorization": bearer(t, iss, claims.Claims{Subject: "u"})}},
		{"not bearer scheme", MustAllowSet("user"), map[string]string{"Authorization": "Basic Zm9vOmJhcg=="}},
		{"zero allow set", AllowSet{}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			_, _, err := r.Resolve(context.Background(), req, tc.allow)
			assert.ErrorIs(t, err, problems.ErrUnauthorized)
		})
	}
}

func TestResolveKeySetUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := testConfig()
	cfg.JWKSURL = url
	ver, err := claims.NewVerifier(cfg)
	require.NoError(t, err)
	r, err := NewResolver(cfg, ver, nil, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer a.b.c")
	_, _, err = r.Resolve(context.Background(), req, MustAllowSet("user"))
	assert.ErrorIs(t, err, problems.ErrServiceUnavailable)

	// A valid service key still gets through.
	req.Header.Set(HeaderAPIKey, serviceKey)
	p, _, err := r.Resolve(context.Background(), req, MustAllowSet("user", "private"))
	require.NoError(t, err)
	assert.True(t, p.IsService())
}

func TestAllowSet(t *testing.T) {
	a, err := NewAllowSet("user", "private")
	require.NoError(t, err)
	assert.Equal(t, []string{"user", "private"}, a.Names())
	assert.True(t, a.Contains(Private))
	assert.False(t, a.Contains(Public))

	_, err = NewAllowSet()
	assert.Error(t, err)
	_, err = NewAllowSet("user", "user")
	assert.Error(t, err)
	_, err = NewAllowSet("admin")
	assert.Error(t, err)
	assert.Panics(t, func() { MustAllowSet("bogus") })
}

func TestContextRoundTrip(t *testing.T) {
	_, ok := PrincipalFrom(context.Background())
	assert.False(t, ok)
	assert.False(t, HandleFrom(context.Background()).HasDatabase())

	ctx := WithPrincipal(context.Background(), Principal{ID: "u", Strategy: User}, db.Privileged(nil))
	p, ok := PrincipalFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, "u", p.ID)
	assert.True(t, HandleFrom(ctx).IsPrivileged())
}
