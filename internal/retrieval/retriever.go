// Package retrieval ranks policy chunks for a question by fusing lexical and
// dense similarity.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/kakunin/internal/corpus"
	"github.com/hyperjump/kakunin/internal/embedding"
	"github.com/hyperjump/kakunin/internal/models"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultCandidateK   = 50
	defaultRetryBackoff = 100 * time.Millisecond
)

// Options narrow a single retrieval.
type Options struct {
	// DocumentID restricts candidates to one policy document.
	DocumentID string
}

// Config holds retriever settings.
type Config struct {
	// CandidateK is how many hits each ranking contributes before fusion.
	CandidateK int
	// MinRelevance drops fused scores below it.
	MinRelevance float64
	// RetryBackoff is the wait before the single retry of a failed corpus call.
	RetryBackoff time.Duration
}

// SnapshotFunc returns the corpus view a retrieval should read. It is called
// once per Retrieve.
type SnapshotFunc func() corpus.Provider

// Retriever runs hybrid retrieval over the current corpus snapshot.
type Retriever struct {
	snapshot SnapshotFunc
	embedder embedding.Embedder
	cfg      Config
	logger   *zap.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) { r.logger = l }
}

// New creates a retriever. Zero config fields take defaults.
func New(snapshot SnapshotFunc, embedder embedding.Embedder, cfg Config, opts ...Option) *Retriever {
	if cfg.CandidateK <= 0 {
		cfg.CandidateK = defaultCandidateK
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	r := &Retriever{snapshot: snapshot, embedder: embedder, cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns up to topK chunks ordered by fused score. An empty corpus or
// a query that matches nothing gives an empty result, not an error. Corpus
// failures are retried once; a second failure wraps ErrRetrieval.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, weights models.FusionWeights, opts Options) (*models.RetrievalResult, error) {
	if topK < 1 {
		return nil, fmt.Errorf("%w: top_k must be at least 1, got %d", models.ErrInvalidConfig, topK)
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	result := &models.RetrievalResult{Query: query, Chunks: []*models.ScoredChunk{}}
	if query == "" {
		return result, nil
	}

	snap := r.snapshot()
	candidateK := r.cfg.CandidateK
	if candidateK < topK {
		candidateK = topK
	}

	var lexHits, vecHits []corpus.Hit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := r.withRetry(gctx, "lexical", func(ctx context.Context) ([]corpus.Hit, error) {
			hits, err := snap.LexicalSearch(ctx, query, candidateK, opts.DocumentID, false)
			if err != nil || len(hits) > 0 {
				return hits, err
			}
			// Nothing matched exactly: allow one edit per term (misspelled clause words).
			return snap.LexicalSearch(ctx, query, candidateK, opts.DocumentID, true)
		})
		lexHits = hits
		return err
	})
	g.Go(func() error {
		hits, err := r.withRetry(gctx, "vector", func(ctx context.Context) ([]corpus.Hit, error) {
			emb, err := r.embedder.Embed(ctx, query)
			if err != nil {
				return nil, fmt.Errorf("embed query: %w", err)
			}
			return snap.VectorSearch(ctx, emb, candidateK, opts.DocumentID)
		})
		vecHits = hits
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", models.ErrRetrieval, err)
	}

	fused := Fuse(NormalizeLexical(lexHits), NormalizeVector(vecHits), weights)
	for _, sc := range fused {
		if len(result.Chunks) == topK {
			break
		}
		if sc.FusedScore < r.cfg.MinRelevance || sc.FusedScore <= 0 {
			continue
		}
		chunk, ok := snap.GetChunk(sc.ChunkID)
		if !ok {
			continue
		}
		sc.DocumentID = chunk.SourceDocumentID
		sc.Text = chunk.Text
		result.Chunks = append(result.Chunks, sc)
	}
	r.logger.Debug("retrieval complete",
		zap.Int("lexical_hits", len(lexHits)),
		zap.Int("vector_hits", len(vecHits)),
		zap.Int("returned", len(result.Chunks)),
		zap.String("document_id", opts.DocumentID))
	return result, nil
}

// withRetry runs fn, retrying once after the configured backoff.
func (r *Retriever) withRetry(ctx context.Context, ranking string, fn func(context.Context) ([]corpus.Hit, error)) ([]corpus.Hit, error) {
	var hits []corpus.Hit
	attempt := 0
	backoff := retry.WithMaxRetries(1, retry.NewConstant(r.cfg.RetryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		out, err := fn(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("retrieval ranking failed", zap.String("ranking", ranking), zap.Int("attempt", attempt), zap.Error(err))
			return retry.RetryableError(err)
		}
		hits = out
		return nil
	})
	return hits, err
}
