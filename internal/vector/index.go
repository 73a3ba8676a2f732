// Package vector provides dense similarity search over chunk embeddings.
package vector

import "context"

// Filter reports whether an id may appear in results. A nil Filter admits every id.
type Filter func(id string) bool

// VectorIndex defines vector storage and similarity search.
type VectorIndex interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int, filter Filter) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []string) error
	Size() int
	Close() error
}

// VectorResult is a single vector search hit. Score is cosine similarity clamped to [0,1].
type VectorResult struct {
	ID    string
	Score float64
}
