package analysis

// LevenshteinDistance returns the minimum number of single-rune insertions,
// deletions or substitutions that turn a into b.
func LevenshteinDistance(a, b string) int {
	if a == b {
		return 0
	}
	runesA := []rune(a)
	runesB := []rune(b)
	if len(runesA) == 0 {
		return len(runesB)
	}
	if len(runesB) == 0 {
		return len(runesA)
	}

	prev := make([]int, len(runesB)+1)
	curr := make([]int, len(runesB)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(runesA); i++ {
		curr[0] = i
		for j := 1; j <= len(runesB); j++ {
			cost := 1
			if runesA[i-1] == runesB[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(runesB)]
}

// FuzzyEqual reports whether two terms match exactly, or within one edit when
// both are at least minLen runes long. Numbers only match exactly.
func FuzzyEqual(a, b string, minLen int) bool {
	if a == b {
		return true
	}
	if IsNumber(a) || IsNumber(b) {
		return false
	}
	if len([]rune(a)) < minLen || len([]rune(b)) < minLen {
		return false
	}
	return LevenshteinDistance(a, b) <= 1
}
