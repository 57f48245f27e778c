package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"gatehouse/pkg/authctx"
)

type createInvitationRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type acceptInvitationRequest struct {
	Token string `json:"token"`
}

// createInvitation never returns the token; it reaches the invitee through the notifier.
func (a *App) createInvitation(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	var req createInvitationRequest
	if err := decodeJSON(r, &req); err != nil {
		a.problems.Write(w, err)
		return
	}
	inv, err := a.invitations.Create(r.Context(), p, chi.URLParam(r, "tenantID"), req.Email, req.Role)
	if err != nil {
		a.fail(w, r, "create invitation", err)
		return
	}
	writeJSON(w, inv.Redacted(), http.StatusCreated)
}

func (a *App) listInvitations(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	out, err := a.invitations.List(r.Context(), p, chi.URLParam(r, "tenantID"))
	if err != nil {
		a.fail(w, r, "list invitations", err)
		return
	}
	writeJSON(w, out, http.StatusOK)
}

func (a *App) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	var req acceptInvitationRequest
	if err := decodeJSON(r, &req); err != nil {
		a.problems.Write(w, err)
		return
	}
	res, err := a.invitations.Accept(r.Context(), p, req.Token)
	if err != nil {
		a.fail(w, r, "accept invitation", err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, res, status)
}
