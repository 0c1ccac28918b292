// Package similarity scores approximate string matches for fuzzy cache
// lookups.
package similarity

// DefaultThreshold is the minimum score for a fuzzy cache hit.
const DefaultThreshold = 0.7

// Score returns 1 - editDistance/len(longer), in [0, 1]. If the inputs
// have equal length the first argument is treated as the longer one.
// Inputs are bounded-length question text, so the O(n*m) DP distance is
// fine.
func Score(a, b string) float64 {
	longer, shorter := []rune(a), []rune(b)
	if len(longer) < len(shorter) {
		longer, shorter = shorter, longer
	}
	if len(longer) == 0 {
		return 1.0
	}
	dist := levenshtein(longer, shorter)
	return float64(len(longer)-dist) / float64(len(longer))
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(a)+1)
	cur := make([]int, len(a)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(b); i++ {
		cur[0] = i
		for j := 1; j <= len(a); j++ {
			if b[i-1] == a[j-1] {
				cur[j] = prev[j-1]
			} else {
				cur[j] = min(prev[j-1], cur[j-1], prev[j]) + 1
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(a)]
}
