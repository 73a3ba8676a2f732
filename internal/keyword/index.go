// Package keyword provides lexical (TF-IDF) search over policy chunks.
package keyword

import (
	"context"

	"github.com/hyperjump/kakunin/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// DocumentID restricts hits to chunks of one policy document.
	DocumentID string
	// FuzzyEnabled matches stemmed query terms within Fuzziness edits.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance for fuzzy matching (1 or 2).
	Fuzziness int
}

// KeywordIndex defines keyword search operations over chunks.
type KeywordIndex interface {
	Index(ctx context.Context, chunks []*models.Chunk) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, id string) error
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit. Score is the raw engine score.
type KeywordResult struct {
	ID    string
	Score float64
}
