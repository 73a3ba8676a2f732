package corpus

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hyperjump/kakunin/internal/embedding"
	"github.com/hyperjump/kakunin/internal/indexer"
	"github.com/hyperjump/kakunin/internal/keyword"
	"github.com/hyperjump/kakunin/internal/models"
	"github.com/hyperjump/kakunin/internal/vector"
)

// embedBatchSize bounds how many chunk texts go to the embedder at once.
const embedBatchSize = 64

// Builder turns documents into a Snapshot.
type Builder struct {
	embedder embedding.Embedder
	chunker  *indexer.Chunker
}

// NewBuilder creates a builder with the given embedder and chunker.
func NewBuilder(embedder embedding.Embedder, chunker *indexer.Chunker) *Builder {
	return &Builder{embedder: embedder, chunker: chunker}
}

// Build chunks, embeds, and indexes docs into a new snapshot. Documents are
// processed in id order so identical input gives an identical snapshot.
func (b *Builder) Build(ctx context.Context, docs []*models.Document, version uint64) (*Snapshot, error) {
	sorted := append([]*models.Document(nil), docs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var chunks []*models.Chunk
	documents := 0
	for _, doc := range sorted {
		dc := b.chunker.Chunk(doc.ID, indexer.Preprocess(doc.Content))
		if len(dc) > 0 {
			documents++
		}
		chunks = append(chunks, dc...)
	}

	snap := &Snapshot{
		version:   version,
		builtAt:   time.Now().UTC(),
		documents: documents,
		chunks:    make(map[string]*models.Chunk, len(chunks)),
	}
	if len(chunks) == 0 {
		return snap, nil
	}

	if err := b.embed(ctx, chunks); err != nil {
		return nil, err
	}

	lexical, err := keyword.NewBleveIndex()
	if err != nil {
		return nil, err
	}
	if err := lexical.Index(ctx, chunks); err != nil {
		_ = lexical.Close()
		return nil, err
	}
	dense, err := vector.NewMemoryIndex(b.embedder.Dimensions())
	if err != nil {
		_ = lexical.Close()
		return nil, err
	}
	ids := make([]string, len(chunks))
	vecs := make([][]float32, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		vecs[i] = c.Embedding
		snap.chunks[c.ID] = c
	}
	if err := dense.Add(ctx, ids, vecs); err != nil {
		_ = lexical.Close()
		return nil, err
	}
	snap.lexical = lexical
	snap.dense = dense
	return snap, nil
}

func (b *Builder) embed(ctx context.Context, chunks []*models.Chunk) error {
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, end-start)
		for i, c := range chunks[start:end] {
			texts[i] = c.Text
		}
		vecs, err := b.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunks: %w", err)
		}
		if len(vecs) != len(texts) {
			return fmt.Errorf("embed chunks: got %d vectors for %d texts", len(vecs), len(texts))
		}
		for i, c := range chunks[start:end] {
			c.Embedding = vecs[i]
		}
	}
	return nil
}
