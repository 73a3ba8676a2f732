package embedding

import (
	"context"
	"hash/fnv"

	"github.com/hyperjump/kakunin/internal/analysis"
	"github.com/hyperjump/kakunin/pkg/utils"
)

// MockEmbedder is a deterministic, model-free embedder. Each content term is
// hashed into one signed dimension (feature hashing), so texts that share terms
// have a positive cosine similarity and identical texts embed identically.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns a hashing embedder with the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns the normalised term-hash vector of text. Text without content terms
// yields the zero vector.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	emb := make([]float32, e.dimensions)
	for _, term := range analysis.ContentTerms(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(term))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dimensions))
		if sum&(1<<63) != 0 {
			emb[idx]--
		} else {
			emb[idx]++
		}
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
