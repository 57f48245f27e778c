package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gatehouse/pkg/authctx"
	"gatehouse/pkg/middleware"
	"gatehouse/pkg/openapi"
)

var (
	allowPublic      = authctx.MustAllowSet("public")
	allowUser        = authctx.MustAllowSet("user")
	allowPrivate     = authctx.MustAllowSet("private")
	allowUserPrivate = authctx.MustAllowSet("user", "private")
)

func (a *App) routes() []route {
	return []route{
		{http.MethodGet, "/healthz", allowPublic, "Liveness", "ops", nil, a.healthz},
		{http.MethodGet, "/openapi.json", allowPublic, "Route document", "ops", nil,
			a.registry.ServeHandler(a.cfg.ServiceName, apiVersion)},

		{http.MethodPost, "/v1/auth/token", allowPrivate, "Issue a credential for a user", "auth",
			jsonBody("user_id", "email"), a.issueToken},
		{http.MethodPost, "/v1/auth/refresh", allowUser, "Re-issue the caller's credential from stored claims", "auth",
			nil, a.refresh},

		{http.MethodPost, "/v1/tenants", allowUser, "Create a tenant owned by the caller", "tenants",
			jsonBody("name", "slug"), a.createTenant},
		{http.MethodGet, "/v1/tenants", allowUser, "List the caller's tenants", "tenants", nil, a.listTenants},
		{http.MethodPost, "/v1/tenants/{tenantID}/select", allowUser, "Make a tenant the caller's active tenant", "tenants",
			nil, a.selectTenant},

		{http.MethodGet, "/v1/tenants/{tenantID}/members", allowUserPrivate, "List tenant members", "members",
			nil, a.listMembers},
		{http.MethodPatch, "/v1/tenants/{tenantID}/members/{userID}", allowUser, "Change a member's role", "members",
			jsonBody("role"), a.updateMember},
		{http.MethodDelete, "/v1/tenants/{tenantID}/members/{userID}", allowUserPrivate, "Remove a member", "members",
			nil, a.removeMember},

		{http.MethodPost, "/v1/tenants/{tenantID}/invitations", allowUser, "Invite an email address", "invitations",
			jsonBody("email", "role"), a.createInvitation},
		{http.MethodGet, "/v1/tenants/{tenantID}/invitations", allowUser, "List pending invitations", "invitations",
			nil, a.listInvitations},
		{http.MethodPost, "/v1/invitations/accept", allowUser, "Accept an invitation", "invitations",
			jsonBody("token"), a.acceptInvitation},
	}
}

// Handler builds the HTTP handler with routes and middleware. Each route is wrapped in
// its own Authorize so no handler runs without a resolved principal.
func (a *App) Handler() http.Handler {
	a.once.Do(func() { a.handler = a.build() })
	return a.handler
}

func (a *App) build() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID(), chimw.RealIP, middleware.AccessLog(a.log), middleware.Recover(a.log, a.problems))
	r.Use(middleware.Tracing(a.cfg, a.log))
	r.Use(cors(a.cfg.CORSOrigins))

	for _, rt := range a.routes() {
		a.registry.Register(openapi.Operation{
			Method:      rt.method,
			Path:        rt.path,
			Summary:     rt.summary,
			Tags:        []string{rt.tag},
			Allow:       rt.allow.Names(),
			RequestBody: rt.body,
			Responses:   map[string]any{"default": map[string]any{"description": "problem+json on error"}},
		})
		r.With(middleware.Authorize(a.resolver, rt.allow, a.problems, a.log)).Method(rt.method, rt.path, rt.h)
	}
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) { a.problems.Write(w, errRouteNotFound) })
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) { a.problems.Write(w, errMethodNotAllowed) })
	return r
}

func (a *App) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]bool{"ok": true}, http.StatusOK)
}
