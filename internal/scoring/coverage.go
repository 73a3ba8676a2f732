package scoring

import "github.com/hyperjump/kakunin/internal/analysis"

// fuzzyMinLen is the shortest term matched within one edit.
const fuzzyMinLen = 5

// Coverage returns the fraction of the query's key terms found in at least one
// chunk, exactly or within one edit for terms of five or more letters. A query
// without key terms, or no chunks, covers nothing.
func Coverage(query string, chunks []string) float64 {
	terms := analysis.Analyze(query).Terms
	if len(terms) == 0 || len(chunks) == 0 {
		return 0
	}
	vocab := make(map[string]struct{})
	for _, c := range chunks {
		for t := range analysis.TermSet(c) {
			vocab[t] = struct{}{}
		}
	}
	found := 0
	for _, t := range terms {
		if covered(t, vocab) {
			found++
		}
	}
	return float64(found) / float64(len(terms))
}

func covered(term string, vocab map[string]struct{}) bool {
	if _, ok := vocab[term]; ok {
		return true
	}
	if len([]rune(term)) < fuzzyMinLen {
		return false
	}
	for v := range vocab {
		if analysis.FuzzyEqual(term, v, fuzzyMinLen) {
			return true
		}
	}
	return false
}
