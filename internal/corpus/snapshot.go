package corpus

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/kakunin/internal/keyword"
	"github.com/hyperjump/kakunin/internal/models"
	"github.com/hyperjump/kakunin/internal/vector"
)

// Hit is one raw ranking entry from a snapshot.
type Hit struct {
	ChunkID string
	Score   float64
}

// Provider is the read-only corpus surface used by retrieval.
type Provider interface {
	// LexicalSearch returns up to k chunks by raw lexical score. A non-empty
	// documentID restricts candidates to that document. fuzzy enables
	// edit-distance matching of query terms.
	LexicalSearch(ctx context.Context, query string, k int, documentID string, fuzzy bool) ([]Hit, error)
	// VectorSearch returns up to k chunks by cosine similarity in (0,1].
	VectorSearch(ctx context.Context, embedding []float32, k int, documentID string) ([]Hit, error)
	GetChunk(id string) (*models.Chunk, bool)
}

// ErrSnapshotClosed is returned by searches against a snapshot whose indexes
// were released after it was replaced.
var ErrSnapshotClosed = errors.New("corpus snapshot closed")

// Snapshot is an immutable view of the corpus. It is never modified after Build
// returns, so any number of queries may read it concurrently.
type Snapshot struct {
	version   uint64
	builtAt   time.Time
	documents int
	chunks    map[string]*models.Chunk
	lexical   keyword.KeywordIndex
	dense     vector.VectorIndex

	// Searches hold closeMu for reading so close waits for them.
	closeMu sync.RWMutex
	closed  bool
}

var _ Provider = (*Snapshot)(nil)

func emptySnapshot() *Snapshot {
	return &Snapshot{chunks: map[string]*models.Chunk{}}
}

// Version increases by one with every rebuild. The initial empty snapshot is 0.
func (s *Snapshot) Version() uint64 { return s.version }

// BuiltAt is when the snapshot was built.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// DocumentCount is the number of documents with at least one chunk.
func (s *Snapshot) DocumentCount() int { return s.documents }

// ChunkCount is the number of chunks.
func (s *Snapshot) ChunkCount() int { return len(s.chunks) }

// LexicalSearch implements Provider.
func (s *Snapshot) LexicalSearch(ctx context.Context, query string, k int, documentID string, fuzzy bool) ([]Hit, error) {
	if s.lexical == nil || k <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return nil, ErrSnapshotClosed
	}
	opts := &keyword.SearchOptions{DocumentID: documentID, FuzzyEnabled: fuzzy, Fuzziness: 1}
	results, err := s.lexical.Search(ctx, query, k, opts)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{ChunkID: r.ID, Score: r.Score}
	}
	return hits, nil
}

// VectorSearch implements Provider.
func (s *Snapshot) VectorSearch(ctx context.Context, embedding []float32, k int, documentID string) ([]Hit, error) {
	if s.dense == nil || k <= 0 {
		return nil, nil
	}
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return nil, ErrSnapshotClosed
	}
	var filter vector.Filter
	if documentID != "" {
		filter = func(id string) bool {
			c, ok := s.chunks[id]
			return ok && c.SourceDocumentID == documentID
		}
	}
	results, err := s.dense.Search(ctx, embedding, k, filter)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{ChunkID: r.ID, Score: r.Score}
	}
	return hits, nil
}

// GetChunk implements Provider.
func (s *Snapshot) GetChunk(id string) (*models.Chunk, bool) {
	c, ok := s.chunks[id]
	return c, ok
}

// HasDocument reports whether any chunk belongs to documentID.
func (s *Snapshot) HasDocument(documentID string) bool {
	for _, c := range s.chunks {
		if c.SourceDocumentID == documentID {
			return true
		}
	}
	return false
}

// close releases both indexes once in-flight searches return. Chunk lookups
// keep working.
func (s *Snapshot) close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	if s.lexical != nil {
		errs = append(errs, s.lexical.Close())
	}
	if s.dense != nil {
		errs = append(errs, s.dense.Close())
	}
	return errors.Join(errs...)
}
