// Package guardrail detects and redacts personal data in questions and answers.
package guardrail

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/kakunin/internal/models"
)

// Direction says which side of the model a text is on.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Finding is one detection. Start and End are byte offsets into the scanned text.
type Finding struct {
	Category    Category `json:"category"`
	Start       int      `json:"start"`
	End         int      `json:"end"`
	Redacted    bool     `json:"redacted"`
	Placeholder string   `json:"placeholder,omitempty"`
}

// Verdict is a classifier's opinion on a pattern match.
type Verdict int

const (
	// VerdictUnsure means the classifier cannot tell. The match is redacted.
	VerdictUnsure Verdict = iota
	// VerdictSensitive confirms the match.
	VerdictSensitive
	// VerdictBenign overrules the pattern; the match is reported but kept.
	VerdictBenign
)

// Classifier gives a second opinion on pattern matches. Errors count as unsure.
type Classifier interface {
	Classify(category Category, match, text string) (Verdict, error)
}

// Engine scans text with the built-in detectors. It is safe for concurrent use.
type Engine struct {
	allow      []*regexp.Regexp
	classifier Classifier
}

// Option configures an Engine.
type Option func(*Engine)

// WithClassifier sets the secondary classifier.
func WithClassifier(c Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// New builds an engine. extraAllow adds allow patterns on top of the defaults
// (clause references, currency, percentages, dates).
func New(extraAllow []string, opts ...Option) (*Engine, error) {
	e := &Engine{}
	for _, p := range append(append([]string(nil), defaultAllowPatterns...), extraAllow...) {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: allow pattern %q: %v", models.ErrInvalidConfig, p, err)
		}
		e.allow = append(e.allow, re)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ScanAndRedact replaces sensitive spans with [CATEGORY_n] placeholders. The
// same value gets the same placeholder within one text, and numbering continues
// after placeholders already present, so scanning redacted text changes nothing.
func (e *Engine) ScanAndRedact(text string, direction Direction) (string, []Finding, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil, fmt.Errorf("%w: %s text is empty", models.ErrInvalidInput, direction)
	}
	if !utf8.ValidString(text) {
		return "", nil, fmt.Errorf("%w: %s text is not valid UTF-8", models.ErrInvalidInput, direction)
	}

	findings := e.detect(text, nil)
	if len(findings) == 0 {
		return text, []Finding{}, nil
	}

	next := existingOrdinals(text)
	assigned := make(map[Category]map[string]int)
	var b strings.Builder
	last := 0
	for i := range findings {
		f := &findings[i]
		if !f.Redacted {
			continue
		}
		value := text[f.Start:f.End]
		byValue := assigned[f.Category]
		if byValue == nil {
			byValue = make(map[string]int)
			assigned[f.Category] = byValue
		}
		n, ok := byValue[value]
		if !ok {
			next[f.Category]++
			n = next[f.Category]
			byValue[value] = n
		}
		f.Placeholder = "[" + string(f.Category) + "_" + strconv.Itoa(n) + "]"
		b.WriteString(text[last:f.Start])
		b.WriteString(f.Placeholder)
		last = f.End
	}
	b.WriteString(text[last:])
	return b.String(), findings, nil
}

// Contains reports whether text holds a value of category, either raw or as a placeholder.
func (e *Engine) Contains(category Category, text string) bool {
	for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
		if Category(m[1]) == category {
			return true
		}
	}
	return len(e.detect(text, &category)) > 0
}

// Violation reports whether any finding was redacted.
func Violation(findings []Finding) bool {
	for _, f := range findings {
		if f.Redacted {
			return true
		}
	}
	return false
}

// detect returns non-overlapping findings in text order. only limits detection
// to one category.
func (e *Engine) detect(text string, only *Category) []Finding {
	masked := e.mask(text)
	var found []Finding
	taken := func(start, end int) bool {
		for _, f := range found {
			if start < f.End && f.Start < end {
				return true
			}
		}
		return false
	}
	for _, d := range detectors {
		if only != nil && d.category != *only {
			continue
		}
		for _, loc := range d.re.FindAllStringSubmatchIndex(masked, -1) {
			start, end := loc[0], loc[1]
			if d.group > 0 {
				start, end = loc[2*d.group], loc[2*d.group+1]
			}
			if start < 0 {
				continue
			}
			start, end = trimSpan(masked, start, end)
			if start >= end || taken(start, end) {
				continue
			}
			match := text[start:end]
			if d.accept != nil && !d.accept(match) {
				continue
			}
			found = append(found, Finding{
				Category: d.category,
				Start:    start,
				End:      end,
				Redacted: e.confirm(d.category, match, text),
			})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Start < found[j].Start })
	return found
}

// confirm applies the classifier. Anything short of a benign verdict redacts.
func (e *Engine) confirm(category Category, match, text string) bool {
	if e.classifier == nil {
		return true
	}
	v, err := e.classifier.Classify(category, match, text)
	if err != nil {
		return true
	}
	return v != VerdictBenign
}

// maskByte replaces allowed spans. No detector accepts it, so a match can
// never run through an allowed span and join the digits on either side.
const maskByte = 0x00

// mask blanks allowed spans byte for byte so offsets stay aligned with text.
func (e *Engine) mask(text string) string {
	buf := []byte(text)
	for _, re := range e.allow {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			for i := loc[0]; i < loc[1]; i++ {
				buf[i] = maskByte
			}
		}
	}
	return string(buf)
}

func trimSpan(s string, start, end int) (int, int) {
	for start < end && (s[start] == ' ' || s[start] == '-') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '-') {
		end--
	}
	return start, end
}

// existingOrdinals returns the highest placeholder number per category in text.
func existingOrdinals(text string) map[Category]int {
	out := make(map[Category]int)
	for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		if c := Category(m[1]); n > out[c] {
			out[c] = n
		}
	}
	return out
}

// PlaceholderCategory returns the category of a placeholder, given either in
// its bracketed form ("[EMAIL_1]") or as a lowercase token ("email_1").
func PlaceholderCategory(s string) (Category, bool) {
	s = strings.ToUpper(strings.Trim(s, "[]"))
	m := placeholderRe.FindStringSubmatch("[" + s + "]")
	if m == nil || m[0] != "["+s+"]" {
		return "", false
	}
	return Category(m[1]), true
}
