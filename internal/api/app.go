// Package api exposes tenancy, credential and invitation operations over HTTP. Every
// route declares the authentication strategies it accepts; the declaration is enforced
// by middleware.Authorize and published in /openapi.json.
package api

import (
	"net/http"
	"sync"

	"go.uber.org/zap"

	"gatehouse/internal/invitations"
	"gatehouse/internal/tenancy"
	"gatehouse/pkg/authctx"
	"gatehouse/pkg/config"
	"gatehouse/pkg/logger"
	"gatehouse/pkg/middleware"
	"gatehouse/pkg/openapi"
	"gatehouse/pkg/problems"
)

const apiVersion = "v1"

// App holds the services the handlers call into.
type App struct {
	cfg         config.Config
	resolver    middleware.PrincipalResolver
	problems    problems.Writer
	tenancy     *tenancy.Service
	claims      *tenancy.ClaimsManager
	invitations *invitations.Service
	registry    *openapi.Registry
	log         *zap.SugaredLogger

	once    sync.Once
	handler http.Handler
}

func New(cfg config.Config, res middleware.PrincipalResolver, ts *tenancy.Service, cm *tenancy.ClaimsManager, inv *invitations.Service, log *zap.SugaredLogger) *App {
	return &App{
		cfg:         cfg,
		resolver:    res,
		problems:    problems.NewWriter(cfg.ProblemBaseURL),
		tenancy:     ts,
		claims:      cm,
		invitations: inv,
		registry:    openapi.NewRegistry(),
		log:         logger.OrNop(log),
	}
}

// Registry exposes the route table built by Handler.
func (a *App) Registry() *openapi.Registry { return a.registry }

type route struct {
	method  string
	path    string
	allow   authctx.AllowSet
	summary string
	tag     string
	body    any
	h       http.HandlerFunc
}
