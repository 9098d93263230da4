package middleware

import "context"

type contextKey string

const ctxScopeID contextKey = "scope_id"

// ScopeIDFromContext returns the merchant scope resolved for the request.
func ScopeIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxScopeID).(string); ok {
		return v
	}
	return ""
}

// WithScopeID injects the merchant scope into the context for downstream handlers.
func WithScopeID(ctx context.Context, scopeID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxScopeID, scopeID)
}
