package scoring

import (
	"math"

	"github.com/hyperjump/kakunin/internal/models"
)

// ImputedCertainty stands in for a missing model certainty.
const ImputedCertainty = 0.5

// Aggregate combines the three signals into a weighted confidence score.
// Inputs are clamped to [0,1]. A nil certainty is imputed as 0.5 and nil
// grounding or coverage as 0; every imputed component is listed in Imputed.
func Aggregate(grounding, coverage, certainty *float64, weights models.ConfidenceWeights) (models.ConfidenceScore, error) {
	if err := weights.Validate(); err != nil {
		return models.ConfidenceScore{}, err
	}
	var imputed []string
	value := func(v *float64, name string, fallback float64) float64 {
		if v == nil {
			imputed = append(imputed, name)
			return fallback
		}
		return clamp01(*v)
	}
	b := models.ConfidenceBreakdown{
		Grounding: value(grounding, models.ComponentGrounding, 0),
		Coverage:  value(coverage, models.ComponentCoverage, 0),
		Certainty: value(certainty, models.ComponentCertainty, ImputedCertainty),
	}
	score := weights.Grounding*b.Grounding + weights.Coverage*b.Coverage + weights.Certainty*b.Certainty
	return models.ConfidenceScore{
		Score:     clamp01(score),
		Breakdown: b,
		Weights:   weights,
		Imputed:   imputed,
	}, nil
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
