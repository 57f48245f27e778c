// pkg/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMisconfiguration is returned by Validate when a required secret or setting is absent.
// The service refuses to start on it.
var ErrMisconfiguration = errors.New("misconfiguration")

// Config is loaded once at startup and passed by value to constructors.
type Config struct {
	Env         string
	HTTPAddr    string
	ServiceName string

	// Base for problem+json type URLs.
	ProblemBaseURL string

	// Credential signing / verification
	JWTSecret      string
	Issuer         string
	Audience       string
	JWKSURL        string // optional: verify user tokens against a remote key set
	AccessTokenTTL time.Duration
	ClockSkew      time.Duration

	// Shared secret for the private strategy (apikey header).
	ServiceKey string

	InvitationTTL time.Duration
	LookupTimeout time.Duration

	// Redis & Postgres
	RedisURL          string
	DatabaseURL       string
	InvitationChannel string

	// Optional JSON list of tenants (and their owners) created at startup.
	SeedJSON string

	CORSOrigins []string
}

func Load() Config {
	_ = godotenv.Load()
	base := env("BASE_PUBLIC_URL", "http://localhost:8080")
	cfg := Config{
		Env:               env("GATEHOUSE_ENV", "dev"),
		HTTPAddr:          env("GATEHOUSE_HTTP_ADDR", ":8080"),
		ServiceName:       env("OTEL_SERVICE_NAME", "gatehouse"),
		ProblemBaseURL:    env("PROBLEM_BASE_URL", strings.TrimRight(base, "/")+"/problems"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		Issuer:            env("JWT_ISSUER", "gatehouse"),
		Audience:          env("JWT_AUDIENCE", "authenticated"),
		JWKSURL:           env("JWKS_URL", ""),
		AccessTokenTTL:    envDur("ACCESS_TOKEN_TTL_SEC", 3600) * time.Second,
		ClockSkew:         envDur("CLOCK_SKEW_SEC", 30) * time.Second,
		ServiceKey:        os.Getenv("SERVICE_KEY"),
		InvitationTTL:     envDur("INVITATION_TTL_HOURS", 168) * time.Hour,
		LookupTimeout:     envDur("LOOKUP_TIMEOUT_MS", 3000) * time.Millisecond,
		RedisURL:          env("REDIS_URL", ""),
		DatabaseURL:       env("DATABASE_URL", ""),
		InvitationChannel: env("INVITATION_CHANNEL", "gatehouse:invitations"),
		SeedJSON:          os.Getenv("TENANT_SEED_JSON"),
		CORSOrigins:       envList("CORS_ORIGINS", []string{"http://localhost:3000"}),
	}
	return cfg
}

// Validate fails fast on settings that would otherwise degrade to an insecure default.
func (c Config) Validate() error {
	var missing []string
	if len(c.JWTSecret) < 32 {
		missing = append(missing, "JWT_SECRET (min 32 bytes)")
	}
	if strings.TrimSpace(c.ServiceKey) == "" {
		missing = append(missing, "SERVICE_KEY")
	}
	if c.AccessTokenTTL <= 0 {
		missing = append(missing, "ACCESS_TOKEN_TTL_SEC")
	}
	if c.InvitationTTL <= 0 {
		missing = append(missing, "INVITATION_TTL_HOURS")
	}
	if c.LookupTimeout <= 0 {
		missing = append(missing, "LOOKUP_TIMEOUT_MS")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMisconfiguration, strings.Join(missing, ", "))
	}
	return nil
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return time.Duration(i)
	}
	return time.Duration(def)
}

func envList(k string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
