package api

import (
	"net/http"

	"gatehouse/pkg/authctx"
)

type issueTokenRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// issueToken is the service-only entry point for minting a user credential after an
// upstream login.
func (a *App) issueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		a.problems.Write(w, err)
		return
	}
	tok, err := a.claims.IssueToken(r.Context(), req.UserID, req.Email)
	if err != nil {
		a.fail(w, r, "issue token", err)
		return
	}
	writeJSON(w, tok, http.StatusOK)
}

func (a *App) refresh(w http.ResponseWriter, r *http.Request) {
	p, _ := authctx.PrincipalFrom(r.Context())
	tok, err := a.claims.Refresh(r.Context(), p)
	if err != nil {
		a.fail(w, r, "refresh", err)
		return
	}
	writeJSON(w, tok, http.StatusOK)
}
