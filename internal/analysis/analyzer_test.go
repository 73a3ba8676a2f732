package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"sum", "insured", "is", "5000.50"}, Tokens("Sum insured is ₹5,000.50"))
	assert.Equal(t, []string{"see", "clause", "4.2.1"}, Tokens("See clause 4.2.1."))
	assert.Equal(t, []string{"call", "phone_1", "now"}, Tokens("Call [PHONE_1] now"))
	assert.Nil(t, Tokens("  ... !! "))
}

func TestAnalyze(t *testing.T) {
	q := Analyze(`What is the waiting period for "pre-existing diseases" under 2 years?`)
	require.NotNil(t, q)
	assert.Contains(t, q.Terms, Stem("waiting"))
	assert.Contains(t, q.Terms, Stem("period"))
	assert.Contains(t, q.Terms, Stem("diseases"))
	assert.NotContains(t, q.Terms, "what")
	assert.NotContains(t, q.Terms, "the")
	assert.Equal(t, []string{"pre-existing diseases"}, q.Phrases)
	assert.Equal(t, []string{"2"}, q.Numbers)
}

func TestAnalyze_dedupesTerms(t *testing.T) {
	q := Analyze("claims claim claiming")
	assert.Len(t, q.Terms, 1)
}

func TestStem(t *testing.T) {
	assert.Equal(t, Stem("covered"), Stem("covers"))
	assert.Equal(t, "5000", Stem("5000"))
	assert.Equal(t, "phone_1", Stem("phone_1"))
}

func TestContentTerms_keepsNegation(t *testing.T) {
	terms := ContentTerms("Flood damage is not covered")
	assert.Contains(t, terms, "not")
	assert.NotContains(t, terms, "is")
}

func TestSentences(t *testing.T) {
	text := "Flood damage is covered up to Rs. 5,000 under section 4.2. Earthquakes are excluded! Is theft covered?\n\n- Claims must be filed within 30 days"
	got := Sentences(text)
	require.Len(t, got, 4)
	assert.Equal(t, "Flood damage is covered up to Rs. 5,000 under section 4.2.", got[0])
	assert.Equal(t, "Earthquakes are excluded!", got[1])
	assert.Equal(t, "Is theft covered?", got[2])
	assert.Equal(t, "Claims must be filed within 30 days", got[3])
}

func TestSentences_empty(t *testing.T) {
	assert.Empty(t, Sentences(""))
	assert.Empty(t, Sentences(" ... "))
}
