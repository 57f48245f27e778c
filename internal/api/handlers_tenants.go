package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"gatehouse/pkg/authctx"
	"gatehouse/pkg/claims"
	"gatehouse/pkg/middleware"
	"gatehouse/pkg/problems"
)

type createTenantRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type updateMemberRequest struct {
	Role string `json:"role"`
}

// selectTenantResponse tells the caller that the credential it holds is now stale.
type selectTenantResponse struct {
	Claims          claims.Claims `json:"claims"`
	RefreshRequired bool          `json:"refresh_required"`
}

// fail logs server-side errors with the request id; client errors are only rendered.
func (a *App) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if problems.Status(err) >= http.StatusInternalServerError {
		a.log.Errorw(op+" failed", "request_id", middleware.RequestIDFrom(r.Context()), "err", err)
	}
	a.problems.Write(w, err)
}

func (a *App) createTenant(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	var req createTenantRequest
	if err := decodeJSON(r, &req); err != nil {
		a.problems.Write(w, err)
		return
	}
	t, err := a.tenancy.CreateTenant(r.Context(), p, req.Name, req.Slug)
	if err != nil {
		a.fail(w, r, "create tenant", err)
		return
	}
	writeJSON(w, t, http.StatusCreated)
}

func (a *App) listTenants(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	out, err := a.tenancy.ListMyTenants(r.Context(), p)
	if err != nil {
		a.fail(w, r, "list tenants", err)
		return
	}
	writeJSON(w, out, http.StatusOK)
}

func (a *App) selectTenant(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	c, err := a.claims.SelectTenant(r.Context(), p, chi.URLParam(r, "tenantID"))
	if err != nil {
		a.fail(w, r, "select tenant", err)
		return
	}
	writeJSON(w, selectTenantResponse{Claims: c, RefreshRequired: true}, http.StatusOK)
}

func (a *App) listMembers(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	out, err := a.tenancy.ListMembers(r.Context(), p, authctx.HandleFrom(r.Context()), chi.URLParam(r, "tenantID"))
	if err != nil {
		a.fail(w, r, "list members", err)
		return
	}
	writeJSON(w, out, http.StatusOK)
}

func (a *App) updateMember(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	var req updateMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		a.problems.Write(w, err)
		return
	}
	m, err := a.tenancy.UpdateMemberRole(r.Context(), p, chi.URLParam(r, "tenantID"), chi.URLParam(r, "userID"), req.Role)
	if err != nil {
		a.fail(w, r, "update member", err)
		return
	}
	writeJSON(w, m, http.StatusOK)
}

func (a *App) removeMember(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	if err := a.tenancy.RemoveMember(r.Context(), p, chi.URLParam(r, "tenantID"), chi.URLParam(r, "userID")); err != nil {
		a.fail(w, r, "remove member", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
