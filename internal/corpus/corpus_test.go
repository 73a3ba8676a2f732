package corpus

import (
	"context"
	"testing"
	"time"

	"github.com/hyperjump/kakunin/internal/embedding"
	"github.com/hyperjump/kakunin/internal/indexer"
	"github.com/hyperjump/kakunin/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDims = 64

func newTestLibrary(t *testing.T, opts ...LibraryOption) *Library {
	t.Helper()
	emb := embedding.NewMockEmbedder(testDims)
	builder := NewBuilder(emb, indexer.NewChunker(20, 5))
	lib := NewLibrary(NewMemoryDocumentStore(), builder, opts...)
	t.Cleanup(lib.Close)
	return lib
}

var policyDocs = []*models.Document{
	{ID: "home", Title: "Home", Content: "Section 4.2 Flood damage to the building is excluded unless the flood rider is purchased."},
	{ID: "motor", Title: "Motor", Content: "Theft of the insured vehicle is covered up to the sum insured of INR 5,00,000."},
}

func TestLibrary_emptySnapshot(t *testing.T) {
	lib := newTestLibrary(t)
	snap := lib.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, uint64(0), snap.Version())
	assert.Equal(t, 0, snap.ChunkCount())

	hits, err := snap.LexicalSearch(context.Background(), "flood", 5, "", false)
	require.NoError(t, err)
	assert.Empty(t, hits)
	hits, err = snap.VectorSearch(context.Background(), make([]float32, testDims), 5, "")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestLibrary_putRebuildsAndSearches(t *testing.T) {
	ctx := context.Background()
	lib := newTestLibrary(t)
	for _, d := range policyDocs {
		require.NoError(t, lib.PutDocument(ctx, d))
	}
	snap := lib.Snapshot()
	assert.Equal(t, uint64(2), snap.Version())
	assert.Equal(t, 2, snap.DocumentCount())
	assert.True(t, snap.HasDocument("home"))

	hits, err := snap.LexicalSearch(ctx, "flood damage", 5, "", false)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, indexer.ChunkID("home", 0), hits[0].ChunkID)

	filtered, err := snap.LexicalSearch(ctx, "flood damage", 5, "motor", false)
	require.NoError(t, err)
	assert.Empty(t, filtered)

	c, ok := snap.GetChunk(hits[0].ChunkID)
	require.True(t, ok)
	assert.Equal(t, "home", c.SourceDocumentID)
	assert.Len(t, c.Embedding, testDims)

	q, err := embedding.NewMockEmbedder(testDims).Embed(ctx, "vehicle theft covered")
	require.NoError(t, err)
	vhits, err := snap.VectorSearch(ctx, q, 5, "motor")
	require.NoError(t, err)
	for _, h := range vhits {
		assert.Contains(t, h.ChunkID, "motor#")
		assert.Greater(t, h.Score, 0.0)
		assert.LessOrEqual(t, h.Score, 1.0)
	}
}

func TestLibrary_oldSnapshotSurvivesSwap(t *testing.T) {
	ctx := context.Background()
	lib := newTestLibrary(t)
	require.NoError(t, lib.PutDocument(ctx, policyDocs[0]))
	old := lib.Snapshot()

	require.NoError(t, lib.DeleteDocument(ctx, "home"))
	assert.Equal(t, 0, lib.Snapshot().ChunkCount())

	hits, err := old.LexicalSearch(ctx, "flood", 5, "", false)
	require.NoError(t, err)
	assert.NotEmpty(t, hits, "a held snapshot must stay searchable after a swap")
}

func TestLibrary_retiredSnapshotIndexesClosed(t *testing.T) {
	ctx := context.Background()
	lib := newTestLibrary(t, WithRetireDelay(0))
	require.NoError(t, lib.PutDocument(ctx, policyDocs[0]))
	old := lib.Snapshot()
	hits, err := old.LexicalSearch(ctx, "flood", 5, "", false)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	require.NoError(t, lib.PutDocument(ctx, policyDocs[1]))

	_, err = old.LexicalSearch(ctx, "flood", 5, "", false)
	assert.ErrorIs(t, err, ErrSnapshotClosed)
	_, err = old.VectorSearch(ctx, make([]float32, testDims), 5, "")
	assert.ErrorIs(t, err, ErrSnapshotClosed)
	_, ok := old.GetChunk(hits[0].ChunkID)
	assert.True(t, ok, "chunk lookups do not depend on the indexes")

	current := lib.Snapshot()
	hits, err = current.LexicalSearch(ctx, "flood", 5, "", false)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestLibrary_retireWaitsForDelay(t *testing.T) {
	ctx := context.Background()
	lib := newTestLibrary(t, WithRetireDelay(20*time.Millisecond))
	require.NoError(t, lib.PutDocument(ctx, policyDocs[0]))
	old := lib.Snapshot()
	require.NoError(t, lib.PutDocument(ctx, policyDocs[1]))

	_, err := old.LexicalSearch(ctx, "flood", 5, "", false)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := old.LexicalSearch(ctx, "flood", 5, "", false)
		return err != nil
	}, time.Second, 5*time.Millisecond)
}

func TestBuilder_deterministic(t *testing.T) {
	ctx := context.Background()
	b := NewBuilder(embedding.NewMockEmbedder(testDims), indexer.NewChunker(8, 2))
	reversed := []*models.Document{policyDocs[1], policyDocs[0]}

	s1, err := b.Build(ctx, policyDocs, 1)
	require.NoError(t, err)
	s2, err := b.Build(ctx, reversed, 1)
	require.NoError(t, err)

	h1, err := s1.LexicalSearch(ctx, "insured vehicle theft", 10, "", false)
	require.NoError(t, err)
	h2, err := s2.LexicalSearch(ctx, "insured vehicle theft", 10, "", false)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Equal(t, s1.ChunkCount(), s2.ChunkCount())
}

func TestLibrary_debouncedRebuild(t *testing.T) {
	ctx := context.Background()
	swaps := make(chan uint64, 4)
	lib := newTestLibrary(t,
		WithDebounce(30*time.Millisecond),
		WithSwapHook(func(s *Snapshot) { swaps <- s.Version() }))

	for _, d := range policyDocs {
		require.NoError(t, lib.PutDocument(ctx, d))
	}
	assert.Equal(t, uint64(0), lib.Snapshot().Version(), "writes should not rebuild synchronously")

	select {
	case v := <-swaps:
		assert.Equal(t, uint64(1), v)
	case <-time.After(2 * time.Second):
		t.Fatal("debounced rebuild did not run")
	}
	assert.Equal(t, 2, lib.Snapshot().DocumentCount())
}

func TestLibrary_deleteUnknown(t *testing.T) {
	lib := newTestLibrary(t)
	err := lib.DeleteDocument(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryDocumentStore_keepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDocumentStore()
	doc := &models.Document{ID: "a", Content: "v1"}
	require.NoError(t, s.PutDocument(ctx, doc))
	created := doc.CreatedAt

	require.NoError(t, s.PutDocument(ctx, &models.Document{ID: "a", Content: "v2"}))
	got, err := s.GetDocument(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Content)
	assert.Equal(t, created, got.CreatedAt)
}
