// Package enums holds the closed string sets persisted in text columns.
package enums

import (
	"fmt"

	"github.com/samber/lo"
)

func member[T ~string](set []T, v T) bool {
	return lo.Contains(set, v)
}

// parseMember matches raw exactly; callers normalise first when they accept
// loose input.
func parseMember[T ~string](kind string, set []T, raw string) (T, error) {
	if v := T(raw); member(set, v) {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, raw)
}
