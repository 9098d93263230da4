package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/angelmondragon/payintents-backend/api/responses"
	pkgerrors "github.com/angelmondragon/payintents-backend/pkg/errors"
	"github.com/angelmondragon/payintents-backend/pkg/logger"
)

const scopeHeader = "X-Scope-Id"

var scopePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Scope resolves the merchant scope from the X-Scope-Id header, falling back
// to defaultScope, and stores it on the request context.
func Scope(defaultScope string, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scopeID := strings.TrimSpace(r.Header.Get(scopeHeader))
			if scopeID == "" {
				scopeID = defaultScope
			}
			if !scopePattern.MatchString(scopeID) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid scope id").
					WithDetails(map[string]string{"scopeId": "must be 1-64 letters, digits, '-' or '_'"}))
				return
			}

			ctx := WithScopeID(r.Context(), scopeID)
			if logg != nil {
				ctx = logg.WithScopeID(ctx, scopeID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
