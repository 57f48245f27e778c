package authctx

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"gatehouse/pkg/claims"
	"gatehouse/pkg/config"
	"gatehouse/pkg/db"
	"gatehouse/pkg/logger"
	"gatehouse/pkg/metrics"
	"gatehouse/pkg/problems"
)

// HeaderAPIKey carries the shared secret for the private strategy.
const HeaderAPIKey = "apikey"

// TokenVerifier validates bearer credentials. *claims.Verifier implements it.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (claims.Claims, error)
}

// Resolver turns an inbound request plus an AllowSet into a Principal and a data-access
// handle. It holds no mutable state and is safe for concurrent use.
type Resolver struct {
	verifier   TokenVerifier
	serviceKey [32]byte
	pool       *pgxpool.Pool
	timeout    time.Duration
	log        *zap.SugaredLogger
}

// NewResolver fails with config.ErrMisconfiguration when the service key is absent; there
// is no insecure fallback.
func NewResolver(cfg config.Config, v TokenVerifier, pool *pgxpool.Pool, log *zap.SugaredLogger) (*Resolver, error) {
	if strings.TrimSpace(cfg.ServiceKey) == "" {
		return nil, fmt.Errorf("%w: SERVICE_KEY", config.ErrMisconfiguration)
	}
	if v == nil {
		return nil, fmt.Errorf("%w: token verifier", config.ErrMisconfiguration)
	}
	return &Resolver{
		verifier:   v,
		serviceKey: sha256.Sum256([]byte(cfg.ServiceKey)),
		pool:       pool,
		timeout:    cfg.LookupTimeout,
		log:        logger.OrNop(log),
	}, nil
}

// Resolve tries the declared strategies in order and returns the first that authenticates.
// Failures never say which strategy came close.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request, allow AllowSet) (Principal, db.Handle, error) {
	if allow.Len() == 0 {
		return Principal{}, db.Handle{}, fmt.Errorf("%w: no strategies declared", problems.ErrUnauthorized)
	}
	if allow.Contains(Public) {
		metrics.AuthResolutions.WithLabelValues(Public.String(), "ok").Inc()
		return Principal{Strategy: Public}, db.Anonymous(r.pool), nil
	}

	unavailable := false
	for _, s := range allow.strategies {
		switch s {
		case User:
			p, err := r.resolveUser(ctx, req)
			if err == nil {
				metrics.AuthResolutions.WithLabelValues(User.String(), "ok").Inc()
				return p, db.Scoped(r.pool, p.Claims.JSON()), nil
			}
			if errors.Is(err, claims.ErrUnavailable) {
				unavailable = true
			}
			r.log.Debugw("user strategy failed", "err", err)
		case Private:
			if r.resolvePrivate(req) {
				metrics.AuthResolutions.WithLabelValues(Private.String(), "ok").Inc()
				return Principal{Strategy: Private}, db.Privileged(r.pool), nil
			}
		}
	}
	if unavailable {
		metrics.AuthResolutions.WithLabelValues("none", "unavailable").Inc()
		return Principal{}, db.Handle{}, problems.ErrServiceUnavailable
	}
	metrics.AuthResolutions.WithLabelValues("none", "unauthorized").Inc()
	return Principal{}, db.Handle{}, problems.ErrUnauthorized
}

var errNoBearer = errors.New("missing bearer")

func (r *Resolver) resolveUser(ctx context.Context, req *http.Request) (Principal, error) {
	authz := req.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return Principal{}, errNoBearer
	}
	raw := strings.TrimSpace(authz[len("Bearer "):])
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	c, err := r.verifier.Verify(ctx, raw)
	if err != nil {
		return Principal{}, err
	}
	return Principal{ID: c.Subject, Email: c.Email, Claims: c, Strategy: User}, nil
}

func (r *Resolver) resolvePrivate(req *http.Request) bool {
	v := req.Header.Get(HeaderAPIKey)
	if v == "" {
		return false
	}
	// Hash both sides so the comparison length does not depend on the presented value.
	got := sha256.Sum256([]byte(v))
	return subtle.ConstantTimeCompare(got[:], r.serviceKey[:]) == 1
}
