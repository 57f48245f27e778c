package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gatehouse/internal/api"
	"gatehouse/internal/invitations"
	"gatehouse/internal/tenancy"
	"gatehouse/pkg/authctx"
	"gatehouse/pkg/claims"
	"gatehouse/pkg/config"
	"gatehouse/pkg/db"
	"gatehouse/pkg/logger"
	"gatehouse/pkg/middleware"
	"gatehouse/pkg/policy"
	"gatehouse/pkg/tenants"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatalw("refusing to start", "err", err)
	}

	ctx := context.Background()

	// The rego copy of the access rules must agree with the compiled ones before any
	// request is served.
	rego, err := policy.NewRegoEvaluator(ctx)
	if err != nil {
		log.Fatalw("policy compile", "err", err)
	}
	if err := policy.CheckAgreement(ctx, rego); err != nil {
		log.Fatalw("policy mirror diverges", "err", err)
	}

	pool := db.MustConnect(cfg, log)
	rdb := db.MustRedis(cfg, log)

	var store tenants.Store
	var invStore invitations.Store
	if pool != nil {
		if err := tenants.EnsureSchema(ctx, pool); err != nil {
			log.Fatalw("tenant schema", "err", err)
		}
		if err := invitations.EnsureSchema(ctx, pool); err != nil {
			log.Fatalw("invitation schema", "err", err)
		}
		store = tenants.NewPostgresStore(pool, log)
		invStore = invitations.NewPostgresStore(pool, log)
	} else {
		mem := tenants.NewMemoryStore()
		store = mem
		invStore = invitations.NewMemoryStore(mem)
	}
	if err := tenants.Seed(ctx, store, cfg.SeedJSON, log); err != nil {
		log.Fatalw("tenant seed", "err", err)
	}

	var claimStore claims.Store
	var notifier invitations.Notifier
	if rdb != nil {
		claimStore = claims.NewRedisStore(rdb)
		notifier = invitations.NewRedisNotifier(rdb, cfg.InvitationChannel)
	} else {
		claimStore = claims.NewMemoryStore()
		notifier = invitations.NewLogNotifier(log)
	}

	issuer, err := claims.NewIssuer(cfg)
	if err != nil {
		log.Fatalw("issuer", "err", err)
	}
	verifier, err := claims.NewVerifier(cfg)
	if err != nil {
		log.Fatalw("verifier", "err", err)
	}
	resolver, err := authctx.NewResolver(cfg, verifier, pool, log)
	if err != nil {
		log.Fatalw("resolver", "err", err)
	}

	cm := tenancy.NewClaimsManager(cfg, store, claimStore, issuer, log)
	ts := tenancy.NewService(store, cm, log)
	inv := invitations.NewService(cfg, invStore, store, notifier, log)
	app := api.New(cfg, resolver, ts, cm, inv, log)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infow("authz-service listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	inv.Wait()
	_ = middleware.ShutdownTracing(shutdownCtx)
	if pool != nil {
		pool.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	log.Infow("authz-service stopped")
}
