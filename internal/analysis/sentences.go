package analysis

import (
	"strings"
	"unicode"
)

// Abbreviations that end with a period without ending a sentence.
var abbreviations = toSet("rs", "no", "nos", "mr", "mrs", "ms", "dr", "sec", "cl", "art", "vs", "etc", "e.g", "i.e", "approx", "inc", "ltd", "co")

// Sentences splits text into sentences. It breaks on '.', '!' and '?' followed by
// whitespace or end of text, and on blank lines or bullet line starts. Decimal points
// and common abbreviations do not end a sentence. Fragments without a letter or digit are dropped.
func Sentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	emit := func(end int) {
		s := strings.TrimSpace(string(runes[start:end]))
		s = strings.TrimLeft(s, "-*• \t")
		if hasWordRune(s) {
			out = append(out, s)
		}
		start = end
	}
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '.', '!', '?':
			if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
				continue
			}
			if r == '.' && isAbbreviation(runes[start:i]) {
				continue
			}
			emit(i + 1)
		case '\n':
			if i+1 < len(runes) && (runes[i+1] == '\n' || runes[i+1] == '-' || runes[i+1] == '*' || runes[i+1] == '•') {
				emit(i + 1)
			}
		}
	}
	if start < len(runes) {
		emit(len(runes))
	}
	return out
}

func isAbbreviation(before []rune) bool {
	i := len(before)
	for i > 0 && !unicode.IsSpace(before[i-1]) && before[i-1] != '(' {
		i--
	}
	word := strings.ToLower(string(before[i:]))
	_, ok := abbreviations[word]
	return ok
}

func hasWordRune(s string) bool {
	for _, r := range s {
		if isWordRune(r) {
			return true
		}
	}
	return false
}
