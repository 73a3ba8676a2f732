// Package analysis tokenizes policy text and questions for term matching,
// retrieval coverage and claim grounding.
package analysis

import (
	"regexp"
	"strings"
	"unicode"

	porterstemmer "github.com/blevesearch/go-porterstemmer"
)

// AnalyzedQuery is a question broken into its matchable parts.
type AnalyzedQuery struct {
	Original string
	// Terms are stemmed key terms in first-seen order, stopwords removed.
	Terms []string
	// Phrases are quoted substrings, lowercased.
	Phrases []string
	// Numbers are numeric tokens with grouping commas removed.
	Numbers []string
}

var phraseRegex = regexp.MustCompile(`"([^"]+)"`)

// Analyze extracts key terms, phrases and numbers from a question.
func Analyze(query string) *AnalyzedQuery {
	result := &AnalyzedQuery{Original: query}
	for _, m := range phraseRegex.FindAllStringSubmatch(query, -1) {
		if p := strings.ToLower(strings.TrimSpace(m[1])); p != "" {
			result.Phrases = append(result.Phrases, p)
		}
	}
	seen := make(map[string]struct{})
	for _, tok := range Tokens(query) {
		if IsNumber(tok) {
			result.Numbers = append(result.Numbers, tok)
		}
		if IsStopword(tok) || isQuestionWord(tok) {
			continue
		}
		term := Stem(tok)
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		result.Terms = append(result.Terms, term)
	}
	return result
}

// Tokens splits text into lowercase runs of letters and digits. Decimal points
// between digits are kept and grouping commas dropped, so "₹5,000.50" yields "5000.50".
// Underscores joining word characters are kept so redaction placeholders stay whole.
func Tokens(text string) []string {
	var out []string
	var b strings.Builder
	runes := []rune(text)
	flush := func() {
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		case (r == '.' || r == ',') && between(runes, i, unicode.IsDigit):
			if r == '.' {
				b.WriteRune(r)
			}
		case r == '_' && b.Len() > 0 && i+1 < len(runes) && isWordRune(runes[i+1]):
			b.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return out
}

// ContentTerms returns the stemmed non-stopword tokens of text, in order, with repeats.
func ContentTerms(text string) []string {
	toks := Tokens(text)
	out := make([]string, 0, len(toks))
	for _, tok := range toks {
		if IsStopword(tok) {
			continue
		}
		out = append(out, Stem(tok))
	}
	return out
}

// TermSet returns the distinct content terms of text.
func TermSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range ContentTerms(text) {
		set[t] = struct{}{}
	}
	return set
}

// Stem reduces a lowercase token to its Porter stem. Numbers and placeholders are returned unchanged.
func Stem(tok string) string {
	if IsNumber(tok) || strings.Contains(tok, "_") || len(tok) <= 3 {
		return tok
	}
	return porterstemmer.StemString(tok)
}

// IsNumber reports whether tok starts with a digit.
func IsNumber(tok string) bool {
	for _, r := range tok {
		return unicode.IsDigit(r)
	}
	return false
}

func between(runes []rune, i int, pred func(rune) bool) bool {
	return i > 0 && i+1 < len(runes) && pred(runes[i-1]) && pred(runes[i+1])
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
