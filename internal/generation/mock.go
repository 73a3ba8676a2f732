package generation

import (
	"context"
	"regexp"
	"strings"

	"github.com/hyperjump/kakunin/internal/analysis"
	"github.com/hyperjump/kakunin/internal/models"
)

// MockModel is the model name reported by Mock.
const MockModel = "mock-extractive"

// NoAnswer is returned by Mock when no excerpt shares a key term with the question.
const NoAnswer = "The policy documents provided do not cover this question."

var excerptMarker = regexp.MustCompile(`\[\d+\]\s*`)

// Mock answers deterministically by quoting the excerpt sentence that shares
// the most key terms with the question. It reads the "Policy excerpts:" and
// "Question:" sections of the rendered prompt.
type Mock struct {
	certainty *float64
}

// NewMock returns a mock generator. A nil certainty models a backend without
// a certainty signal.
func NewMock(certainty *float64) *Mock {
	return &Mock{certainty: certainty}
}

// Generate implements Generator.
func (m *Mock) Generate(ctx context.Context, prompt string, _ Options) (models.GenerationResult, error) {
	if err := ctx.Err(); err != nil {
		return models.GenerationResult{}, err
	}
	excerpts, question := splitPrompt(prompt)
	result := models.GenerationResult{Text: bestSentence(excerpts, question), Model: MockModel}
	if m.certainty != nil {
		v := *m.certainty
		result.RawCertainty = &v
	}
	return result, nil
}

func splitPrompt(prompt string) (excerpts, question string) {
	excerpts = prompt
	if i := strings.Index(prompt, "Policy excerpts:"); i >= 0 {
		excerpts = prompt[i+len("Policy excerpts:"):]
	}
	if i := strings.Index(excerpts, "\nQuestion:"); i >= 0 {
		rest := excerpts[i+len("\nQuestion:"):]
		excerpts = excerpts[:i]
		if j := strings.Index(rest, "\n"); j >= 0 {
			rest = rest[:j]
		}
		question = strings.TrimSpace(rest)
	}
	return excerpts, question
}

func bestSentence(excerpts, question string) string {
	terms := analysis.Analyze(question).Terms
	if len(terms) == 0 {
		return NoAnswer
	}
	best, bestScore := "", 0
	for _, s := range analysis.Sentences(excerptMarker.ReplaceAllString(excerpts, "")) {
		set := analysis.TermSet(s)
		score := 0
		for _, t := range terms {
			if _, ok := set[t]; ok {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = s, score
		}
	}
	if bestScore == 0 {
		return NoAnswer
	}
	return best
}
