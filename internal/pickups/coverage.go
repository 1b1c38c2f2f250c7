package pickups

import "strings"

// Matches reports whether itemArea is one of the covered areas. Comparison
// ignores case and surrounding whitespace. An empty area matches nothing.
func Matches(areas []string, itemArea string) bool {
	target := normalizeArea(itemArea)
	if target == "" {
		return false
	}
	for _, area := range areas {
		if normalizeArea(area) == target {
			return true
		}
	}
	return false
}

func normalizeArea(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
