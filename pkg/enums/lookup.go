package enums

import (
	"fmt"
	"slices"
)

// lookup parses raw against an exhaustive, case-sensitive value list.
func lookup[T ~string](kind string, known []T, raw string) (T, error) {
	if v := T(raw); slices.Contains(known, v) {
		return v, nil
	}
	return "", fmt.Errorf("invalid %s %q", kind, raw)
}
