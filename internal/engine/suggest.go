package engine

import (
	"fmt"
	"regexp"
	"strings"
)

var labelSuffix = regexp.MustCompile(`^(.*) \((\d+)\)$`)

// SuggestLabel computes the next available variant of a taken label:
// "Projector" becomes "Projector (2)", then "Projector (3)", and so on.
// A label that already carries a numeric suffix is reduced to its base
// first, so "Projector (2)" also suggests the next free "Projector (n)".
// Comparison is case-insensitive, matching the uniqueness check.
func SuggestLabel(label string, taken []string) string {
	base := label
	if m := labelSuffix.FindStringSubmatch(label); m != nil {
		base = m[1]
	}

	used := make(map[string]bool, len(taken))
	for _, t := range taken {
		used[strings.ToLower(t)] = true
	}

	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s (%d)", base, n)
		if !used[strings.ToLower(candidate)] {
			return candidate
		}
	}
}
