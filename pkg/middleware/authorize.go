package middleware

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"gatehouse/pkg/authctx"
	"gatehouse/pkg/db"
	"gatehouse/pkg/logger"
	"gatehouse/pkg/problems"
)

// PrincipalResolver is satisfied by *authctx.Resolver.
type PrincipalResolver interface {
	Resolve(ctx context.Context, req *http.Request, allow authctx.AllowSet) (authctx.Principal, db.Handle, error)
}

// Authorize resolves the caller against the route's allow set before the handler runs.
// The principal and its data handle are stored on the request context; failures are
// rendered as problem+json and the handler is never invoked.
func Authorize(res PrincipalResolver, allow authctx.AllowSet, pw problems.Writer, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	log = logger.OrNop(log)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, h, err := res.Resolve(r.Context(), r, allow)
			if err != nil {
				log.Debugw("request denied",
					"request_id", RequestIDFrom(r.Context()),
					"path", r.URL.Path,
					"allow", allow.Names(),
					"err", err)
				pw.Write(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(authctx.WithPrincipal(r.Context(), p, h)))
		})
	}
}
