package models

import (
	"fmt"
	"math"
)

// ScoredChunk is one entry of a hybrid retrieval result.
type ScoredChunk struct {
	ChunkID      string  `json:"chunk_id"`
	DocumentID   string  `json:"document_id"`
	Text         string  `json:"text"`
	FusedScore   float64 `json:"fused_score"`
	LexicalScore float64 `json:"lexical_score"`
	VectorScore  float64 `json:"vector_score"`
}

// RetrievalResult holds chunks ordered by descending fused score.
// Chunk ids are unique and the length never exceeds the requested top-k.
type RetrievalResult struct {
	Query  string         `json:"query"`
	Chunks []*ScoredChunk `json:"chunks"`
}

// Texts returns the chunk texts in rank order.
func (r *RetrievalResult) Texts() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.Chunks))
	for i, c := range r.Chunks {
		out[i] = c.Text
	}
	return out
}

// ChunkIDs returns the chunk ids in rank order.
func (r *RetrievalResult) ChunkIDs() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.Chunks))
	for i, c := range r.Chunks {
		out[i] = c.ChunkID
	}
	return out
}

// FusionWeights are the lexical and vector weights of the hybrid fusion.
type FusionWeights struct {
	Lexical float64 `json:"lexical" yaml:"lexical"`
	Vector  float64 `json:"vector" yaml:"vector"`
}

// GenerationResult is the output of one generation call.
type GenerationResult struct {
	Text string `json:"text"`
	// RawCertainty is nil when the backend exposes no certainty signal.
	RawCertainty      *float64  `json:"raw_certainty,omitempty"`
	PromptVersionUsed PromptRef `json:"prompt_version_used"`
	Model             string    `json:"model"`
}

// weightTolerance bounds the rounding error allowed when weights are summed.
const weightTolerance = 1e-9

// Validate checks that both weights are in [0,1] and sum to 1.
func (w FusionWeights) Validate() error {
	if w.Lexical < 0 || w.Lexical > 1 || w.Vector < 0 || w.Vector > 1 {
		return fmt.Errorf("%w: fusion weights must be in [0,1], got lexical=%g vector=%g", ErrInvalidConfig, w.Lexical, w.Vector)
	}
	if math.Abs(w.Lexical+w.Vector-1) > weightTolerance {
		return fmt.Errorf("%w: fusion weights must sum to 1, got %g", ErrInvalidConfig, w.Lexical+w.Vector)
	}
	return nil
}
