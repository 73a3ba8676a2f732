package scoring

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hyperjump/kakunin/internal/guardrail"
	"github.com/hyperjump/kakunin/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// topicEmbedder maps texts mentioning water or flood onto one axis and
// everything else onto another.
type topicEmbedder struct{ fail bool }

func (e topicEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.fail {
		return nil, errors.New("embedder down")
	}
	lower := strings.ToLower(text)
	if strings.Contains(lower, "water") || strings.Contains(lower, "flood") {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}

func (e topicEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (topicEmbedder) Dimensions() int { return 2 }
func (topicEmbedder) Close() error    { return nil }

func TestScoreGrounding(t *testing.T) {
	ctx := context.Background()
	g := NewGroundingScorer(GroundingConfig{})
	chunks := []string{
		"The deductible is ₹5000 per claim, payable by the insured.",
		"Flood damage is excluded under clause 4.2.",
	}

	tests := []struct {
		name   string
		answer string
		want   float64
	}{
		{"supported_number", "The deductible is ₹5000 per claim.", 1},
		{"wrong_number", "The deductible is ₹10000 per claim.", 0},
		{"half_supported", "Flood damage is excluded. Theft is covered under the home policy.", 0.5},
		{"empty_answer", "", 0},
		{"punctuation_only", "...", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, g.ScoreGrounding(ctx, tt.answer, chunks), 1e-9)
		})
	}
}

func TestScoreGrounding_noChunks(t *testing.T) {
	g := NewGroundingScorer(GroundingConfig{})
	assert.Equal(t, 0.0, g.ScoreGrounding(context.Background(), "The deductible is ₹5000.", nil))
	claims := g.Claims(context.Background(), "The deductible is ₹5000.", nil)
	require.Len(t, claims, 1)
	assert.False(t, claims[0].Supported)
	assert.Equal(t, -1, claims[0].ChunkIndex)
}

func TestScoreGrounding_placeholders(t *testing.T) {
	engine, err := guardrail.New(nil)
	require.NoError(t, err)
	answer := "Notices go to [EMAIL_1]."
	chunks := []string{"Send notices to claims@insurer.example."}

	without := NewGroundingScorer(GroundingConfig{})
	assert.Equal(t, 0.0, without.ScoreGrounding(context.Background(), answer, chunks))

	with := NewGroundingScorer(GroundingConfig{}, WithPlaceholderChecker(engine))
	assert.Equal(t, 1.0, with.ScoreGrounding(context.Background(), answer, chunks))
}

func TestScoreGrounding_semantic(t *testing.T) {
	ctx := context.Background()
	answer := "Rising water is not covered."
	chunks := []string{"Theft is covered.", "Flood damage is excluded."}

	lexical := NewGroundingScorer(GroundingConfig{})
	assert.Equal(t, 0.0, lexical.ScoreGrounding(ctx, answer, chunks))

	semantic := NewGroundingScorer(GroundingConfig{SemanticThreshold: 0.8}, WithEmbedder(topicEmbedder{}))
	claims := semantic.Claims(ctx, answer, chunks)
	require.Len(t, claims, 1)
	assert.True(t, claims[0].Supported)
	assert.Equal(t, 1, claims[0].ChunkIndex)

	disabled := NewGroundingScorer(GroundingConfig{}, WithEmbedder(topicEmbedder{}))
	assert.Equal(t, 0.0, disabled.ScoreGrounding(ctx, answer, chunks))

	failing := NewGroundingScorer(GroundingConfig{SemanticThreshold: 0.8}, WithEmbedder(topicEmbedder{fail: true}))
	assert.Equal(t, 0.0, failing.ScoreGrounding(ctx, answer, chunks))
}

func TestScoreGrounding_semanticStillChecksNumbers(t *testing.T) {
	g := NewGroundingScorer(GroundingConfig{SemanticThreshold: 0.5}, WithEmbedder(topicEmbedder{}))
	got := g.ScoreGrounding(context.Background(), "Flood cover pays 90 percent.", []string{"Flood damage is excluded."})
	assert.Equal(t, 0.0, got)
}

func TestCoverage(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		chunks []string
		want   float64
	}{
		{"all_terms", "What is the deductible for flood damage?", []string{"Flood damage is excluded. The deductible is ₹5000."}, 1},
		{"typo_within_one_edit", "Is erthquake damage covered?", []string{"Earthquake damage is covered."}, 1},
		{"half", "Is theft covered?", []string{"Theft is excluded."}, 0.5},
		{"none", "Is theft covered?", []string{"Flood is excluded."}, 0},
		{"no_key_terms", "What is it?", []string{"Flood is excluded."}, 0},
		{"no_chunks", "Is theft covered?", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Coverage(tt.query, tt.chunks), 1e-9)
		})
	}
}

func ptr(v float64) *float64 { return &v }

var defaultWeights = models.ConfidenceWeights{Grounding: 0.5, Coverage: 0.3, Certainty: 0.2}

func TestAggregate(t *testing.T) {
	got, err := Aggregate(ptr(1), ptr(1), ptr(1), defaultWeights)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got.Score, 1e-9)
	assert.False(t, got.Degraded())

	got, err = Aggregate(ptr(0.8), ptr(0.5), nil, defaultWeights)
	require.NoError(t, err)
	assert.InDelta(t, 0.5*0.8+0.3*0.5+0.2*0.5, got.Score, 1e-9)
	assert.Equal(t, []string{models.ComponentCertainty}, got.Imputed)
	assert.Equal(t, ImputedCertainty, got.Breakdown.Certainty)

	got, err = Aggregate(nil, ptr(1), ptr(1), defaultWeights)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got.Score, 1e-9)
	assert.Equal(t, []string{models.ComponentGrounding}, got.Imputed)
}

func TestAggregate_clampsInputs(t *testing.T) {
	got, err := Aggregate(ptr(1.5), ptr(-0.2), ptr(2), defaultWeights)
	require.NoError(t, err)
	assert.Equal(t, models.ConfidenceBreakdown{Grounding: 1, Coverage: 0, Certainty: 1}, got.Breakdown)
	assert.InDelta(t, 0.7, got.Score, 1e-9)
}

func TestAggregate_invalidWeights(t *testing.T) {
	_, err := Aggregate(ptr(1), ptr(1), ptr(1), models.ConfidenceWeights{Grounding: 0.5, Coverage: 0.5, Certainty: 0.5})
	assert.ErrorIs(t, err, models.ErrInvalidConfig)
	_, err = Aggregate(ptr(1), ptr(1), ptr(1), models.ConfidenceWeights{Grounding: 1.2, Coverage: -0.2})
	assert.ErrorIs(t, err, models.ErrInvalidConfig)
}

func TestAggregate_monotonic(t *testing.T) {
	base := []float64{0.3, 0.4, 0.6}
	for component := 0; component < 3; component++ {
		prev := -1.0
		for step := 0; step <= 10; step++ {
			in := append([]float64(nil), base...)
			in[component] = float64(step) / 10
			got, err := Aggregate(&in[0], &in[1], &in[2], defaultWeights)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, got.Score, prev, "component %d step %d", component, step)
			prev = got.Score
		}
	}
}

func TestAggregate_noEvidenceStaysBelowThreshold(t *testing.T) {
	got, err := Aggregate(ptr(0), ptr(0), ptr(1), defaultWeights)
	require.NoError(t, err)
	assert.Less(t, got.Score, 0.85)
}
