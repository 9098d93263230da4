package middleware

import (
	"fmt"
	"net/http"

	"github.com/angelmondragon/payintents-backend/api/responses"
	pkgerrors "github.com/angelmondragon/payintents-backend/pkg/errors"
	"github.com/angelmondragon/payintents-backend/pkg/logger"
)

// Recoverer turns a handler panic into a logged INTERNAL response.
// http.ErrAbortHandler keeps its meaning and is re-raised.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				err := pkgerrors.Wrap(pkgerrors.CodeInternal, fmt.Errorf("panic: %v", rec), "unexpected failure")
				ctx := r.Context()
				if logg != nil {
					logg.Error(logg.WithField(ctx, "route", routePattern(r)), "handler panicked", err)
				}
				responses.WriteError(ctx, logg, w, err)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
