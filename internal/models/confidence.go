package models

import (
	"fmt"
	"math"
)

// Confidence components, used in breakdowns and imputation markers.
const (
	ComponentGrounding = "grounding"
	ComponentCoverage  = "coverage"
	ComponentCertainty = "certainty"
)

// ConfidenceWeights weight the three confidence components. They sum to 1.
type ConfidenceWeights struct {
	Grounding float64 `json:"grounding" yaml:"grounding"`
	Coverage  float64 `json:"coverage" yaml:"coverage"`
	Certainty float64 `json:"certainty" yaml:"certainty"`
}

// ConfidenceBreakdown holds the clamped component values that produced a score.
type ConfidenceBreakdown struct {
	Grounding float64 `json:"grounding"`
	Coverage  float64 `json:"coverage"`
	Certainty float64 `json:"certainty"`
}

// ConfidenceScore is the aggregated confidence of an answer. Immutable once computed.
type ConfidenceScore struct {
	Score     float64             `json:"score"`
	Breakdown ConfidenceBreakdown `json:"breakdown"`
	Weights   ConfidenceWeights   `json:"weights"`
	// Imputed names components that had no real signal and were defaulted.
	Imputed []string `json:"imputed,omitempty"`
}

// Degraded reports whether any component was imputed.
func (c ConfidenceScore) Degraded() bool {
	return len(c.Imputed) > 0
}

// Validate checks that every weight is in [0,1] and that they sum to 1.
func (w ConfidenceWeights) Validate() error {
	parts := []struct {
		name string
		v    float64
	}{{ComponentGrounding, w.Grounding}, {ComponentCoverage, w.Coverage}, {ComponentCertainty, w.Certainty}}
	for _, p := range parts {
		if p.v < 0 || p.v > 1 {
			return fmt.Errorf("%w: %s weight must be in [0,1], got %g", ErrInvalidConfig, p.name, p.v)
		}
	}
	sum := w.Grounding + w.Coverage + w.Certainty
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: confidence weights must sum to 1, got %g", ErrInvalidConfig, sum)
	}
	return nil
}
