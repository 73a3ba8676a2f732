package guardrail

import "regexp"

// Category names a kind of sensitive value.
type Category string

const (
	CategoryEmail        Category = "EMAIL"
	CategoryNationalID   Category = "NATIONAL_ID"
	CategoryPolicyNumber Category = "POLICY_NUMBER"
	CategoryPhone        Category = "PHONE"
	CategoryPerson       Category = "PERSON"
)

// Categories lists every category in detection priority order. When two
// detections overlap, the earlier category keeps the span.
var Categories = []Category{CategoryEmail, CategoryNationalID, CategoryPolicyNumber, CategoryPhone, CategoryPerson}

// detector finds candidate spans for one category. When group > 0 only that
// submatch is sensitive (the label before it stays readable).
type detector struct {
	category Category
	re       *regexp.Regexp
	group    int
	accept   func(match string) bool
}

const nameWord = `[A-Z][a-zA-Z'-]+`

var detectors = []detector{
	{category: CategoryEmail, re: regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)},

	// Aadhaar: 12 digits, first digit 2-9, optionally grouped 4-4-4.
	{category: CategoryNationalID, re: regexp.MustCompile(`\b[2-9]\d{3}[ -]?\d{4}[ -]?\d{4}\b`)},
	// PAN: five letters, four digits, one letter.
	{category: CategoryNationalID, re: regexp.MustCompile(`\b[A-Z]{5}\d{4}[A-Z]\b`)},
	// SSN.
	{category: CategoryNationalID, re: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},

	{
		category: CategoryPolicyNumber,
		re:       regexp.MustCompile(`(?i)\b(?:policy|account|acct|a/c|member|claim|certificate)[ \t]*(?:no\.?|number|num|#|id)[ \t]*[:#.]?[ \t]*([A-Z0-9][A-Z0-9/-]{4,})`),
		group:    1,
		accept:   hasDigit,
	},
	{category: CategoryPolicyNumber, re: regexp.MustCompile(`\b(?:POL|PLC|ACC|CLM)[-/]?\d[A-Z0-9/-]{4,}\b`)},

	{
		category: CategoryPhone,
		re:       regexp.MustCompile(`(?:\+\d{1,3}[ -]?)?(?:\(\d{2,5}\)[ -]?)?\d[\d -]{8,16}\d`),
		accept:   phoneDigits,
	},

	{
		category: CategoryPerson,
		re:       regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Miss|Mx|Dr|Shri|Smt|Sri|Kumari)\.?[ \t]+(` + nameWord + `(?:[ \t]+` + nameWord + `){0,2})`),
		group:    1,
	},
	{
		category: CategoryPerson,
		re:       regexp.MustCompile(`\b(?:Name|Insured|Policyholder|Policy holder|Nominee|Claimant|Proposer|Beneficiary)[ \t]*:[ \t]*(` + nameWord + `(?:[ \t]+` + nameWord + `){0,3})`),
		group:    1,
	},
}

// Allow patterns mark domain text that looks sensitive but is not: clause
// references, money, percentages, dates, and placeholders from earlier redaction.
var defaultAllowPatterns = []string{
	`(?i)\b(?:clause|section|sec\.|article|art\.|schedule|endorsement|para(?:graph)?|rule|annexure|exclusion)[ \t]*\d+(?:\.\d+)*(?:[ \t]*\([a-z0-9]+\))*`,
	`(?i)(?:₹|\brs\.?|\binr|\$|\busd|€|\beur)[ \t]?\d[\d,]*(?:\.\d+)?(?:[ \t]?(?:lakhs?|crores?|k|m)\b)?`,
	`(?i)\b\d[\d,]*(?:\.\d+)?[ \t]?(?:rupees|dollars|inr|usd|lakhs?|crores?)\b`,
	`\b\d+(?:\.\d+)?[ \t]?%`,
	`\b\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4}\b`,
	`\b\d{4}-\d{2}-\d{2}\b`,
	`(?i)\b\d{1,2}[ \t]+(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?,?[ \t]+\d{4}\b`,
	`(?i)\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?[ \t]+\d{1,2},?[ \t]+\d{4}\b`,
	placeholderPattern,
}

const placeholderPattern = `\[(?:EMAIL|NATIONAL_ID|POLICY_NUMBER|PHONE|PERSON)_\d+\]`

var placeholderRe = regexp.MustCompile(`\[(EMAIL|NATIONAL_ID|POLICY_NUMBER|PHONE|PERSON)_(\d+)\]`)

func hasDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

// phoneDigits accepts 10 to 13 digits, the range of national and international numbers.
func phoneDigits(s string) bool {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n >= 10 && n <= 13
}
