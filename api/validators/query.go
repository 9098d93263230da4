package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/payintents-backend/pkg/errors"
)

// ParseQueryInt reads an optional integer query parameter bounded to
// [lo, hi]. An absent or blank value yields def.
func ParseQueryInt(r *http.Request, key string, def, lo, hi int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	switch {
	case err != nil:
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "query parameter must be an integer").
			WithDetails(map[string]any{"field": key})
	case n < lo || n > hi:
		return 0, pkgerrors.Newf(pkgerrors.CodeValidation, "%s must be between %d and %d", key, lo, hi).
			WithDetails(map[string]any{"field": key, "min": lo, "max": hi})
	}
	return n, nil
}
