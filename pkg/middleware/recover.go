package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"gatehouse/pkg/logger"
	"gatehouse/pkg/problems"
)

var errPanic = errors.New("panic")

// Recover turns a handler panic into a 500 problem body.
func Recover(log *zap.SugaredLogger, pw problems.Writer) func(http.Handler) http.Handler {
	log = logger.OrNop(log)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Errorw("panic",
						"request_id", RequestIDFrom(r.Context()),
						"path", r.URL.Path,
						"err", rec,
						"stack", string(debug.Stack()))
					pw.Write(w, errPanic)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
