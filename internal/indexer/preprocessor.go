package indexer

import (
	"regexp"
	"strings"
)

// lineBreakHyphen matches a word split across lines by typesetting, as in
// "deduct-\nible".
var lineBreakHyphen = regexp.MustCompile(`(\p{L})-[ \t]*\r?\n[ \t]*(\p{Ll})`)

// Preprocess normalizes extracted policy text for chunking: hyphenated line
// breaks are rejoined, all whitespace runs (including non-breaking spaces)
// collapse to one space, and the result is trimmed.
func Preprocess(text string) string {
	text = lineBreakHyphen.ReplaceAllString(text, "$1$2")
	return strings.Join(strings.Fields(text), " ")
}
