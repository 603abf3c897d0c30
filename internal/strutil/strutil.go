// Package strutil holds small string helpers shared by the analyzer and CLI.
package strutil

import "strings"

// Distance returns the case-insensitive Levenshtein distance between a and b.
func Distance(a, b string) int {
	a = strings.ToLower(a)
	b = strings.ToLower(b)

	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	// Two rows instead of the full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// Closest returns the candidate nearest to name, or "" when none is within
// maxDistance. Ties go to the earlier candidate.
func Closest(name string, candidates []string, maxDistance int) string {
	best := ""
	bestDistance := maxDistance + 1
	for _, c := range candidates {
		if d := Distance(name, c); d < bestDistance {
			best, bestDistance = c, d
		}
	}
	return best
}
