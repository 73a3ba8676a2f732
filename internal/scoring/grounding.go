// Package scoring measures how well an answer is supported by retrieved
// evidence and folds the signals into one confidence score.
package scoring

import (
	"context"

	"github.com/hyperjump/kakunin/internal/analysis"
	"github.com/hyperjump/kakunin/internal/embedding"
	"github.com/hyperjump/kakunin/internal/guardrail"
	"github.com/hyperjump/kakunin/internal/vector"
	"go.uber.org/zap"
)

// DefaultSupportRatio is the share of a claim's content terms a chunk must hold.
const DefaultSupportRatio = 0.6

// PlaceholderChecker reports whether a text holds a value of a redaction category.
type PlaceholderChecker interface {
	Contains(category guardrail.Category, text string) bool
}

// GroundingConfig tunes claim support.
type GroundingConfig struct {
	SupportRatio float64
	// SemanticThreshold is the cosine similarity at which a claim counts as
	// supported by a chunk. Zero disables the semantic check.
	SemanticThreshold float64
}

// Claim is one answer sentence and whether evidence supports it.
type Claim struct {
	Text      string `json:"text"`
	Supported bool   `json:"supported"`
	// ChunkIndex is the first supporting chunk, -1 when unsupported.
	ChunkIndex int `json:"chunk_index"`
}

// GroundingScorer scores answers by claim-level lexical entailment.
type GroundingScorer struct {
	cfg          GroundingConfig
	placeholders PlaceholderChecker
	embedder     embedding.Embedder
	logger       *zap.Logger
}

// GroundingOption configures a GroundingScorer.
type GroundingOption func(*GroundingScorer)

// WithPlaceholderChecker lets redaction placeholders in the answer be matched
// against detections in the chunks.
func WithPlaceholderChecker(p PlaceholderChecker) GroundingOption {
	return func(g *GroundingScorer) { g.placeholders = p }
}

// WithEmbedder enables the semantic similarity check.
func WithEmbedder(e embedding.Embedder) GroundingOption {
	return func(g *GroundingScorer) { g.embedder = e }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) GroundingOption {
	return func(g *GroundingScorer) { g.logger = l }
}

// NewGroundingScorer returns a scorer. A non-positive support ratio falls back
// to DefaultSupportRatio.
func NewGroundingScorer(cfg GroundingConfig, opts ...GroundingOption) *GroundingScorer {
	if cfg.SupportRatio <= 0 || cfg.SupportRatio > 1 {
		cfg.SupportRatio = DefaultSupportRatio
	}
	g := &GroundingScorer{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ScoreGrounding returns the fraction of the answer's claims supported by at
// least one chunk. No chunks or no claims score 0.
func (g *GroundingScorer) ScoreGrounding(ctx context.Context, answer string, chunks []string) float64 {
	claims := g.Claims(ctx, answer, chunks)
	if len(claims) == 0 {
		return 0
	}
	supported := 0
	for _, c := range claims {
		if c.Supported {
			supported++
		}
	}
	return float64(supported) / float64(len(claims))
}

type claimTerms struct {
	text         string
	numbers      []string
	terms        []string
	placeholders []guardrail.Category
}

type chunkTerms struct {
	text   string
	tokens map[string]struct{}
	terms  map[string]struct{}
}

// Claims splits answer into claims and marks each one supported or not.
// Sentences without a content term or a number are not claims.
func (g *GroundingScorer) Claims(ctx context.Context, answer string, chunks []string) []Claim {
	var parsed []claimTerms
	for _, s := range analysis.Sentences(answer) {
		if c := parseClaim(s); len(c.numbers)+len(c.terms)+len(c.placeholders) > 0 {
			parsed = append(parsed, c)
		}
	}
	if len(parsed) == 0 {
		return nil
	}
	out := make([]Claim, len(parsed))
	if len(chunks) == 0 {
		for i, c := range parsed {
			out[i] = Claim{Text: c.text, ChunkIndex: -1}
		}
		return out
	}

	evidence := make([]chunkTerms, len(chunks))
	for i, text := range chunks {
		evidence[i] = chunkTerms{text: text, tokens: toSet(analysis.Tokens(text)), terms: analysis.TermSet(text)}
	}
	embedder := g.embedder
	if g.cfg.SemanticThreshold <= 0 {
		embedder = nil
	}
	var chunkVecs [][]float32
	for i, c := range parsed {
		out[i] = Claim{Text: c.text, ChunkIndex: -1}
		for j := range evidence {
			if g.lexicallySupports(c, evidence[j]) {
				out[i].Supported, out[i].ChunkIndex = true, j
				break
			}
		}
		if out[i].Supported || embedder == nil {
			continue
		}
		if chunkVecs == nil {
			vecs, err := embedder.EmbedBatch(ctx, chunks)
			if err != nil {
				g.logger.Warn("grounding embeddings unavailable", zap.Error(err))
				embedder = nil
				continue
			}
			chunkVecs = vecs
		}
		if j := g.semanticallySupports(ctx, embedder, c, evidence, chunkVecs); j >= 0 {
			out[i].Supported, out[i].ChunkIndex = true, j
		}
	}
	return out
}

func parseClaim(sentence string) claimTerms {
	c := claimTerms{text: sentence}
	seen := make(map[string]struct{})
	for _, tok := range analysis.Tokens(sentence) {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		switch {
		case analysis.IsNumber(tok):
			c.numbers = append(c.numbers, tok)
		case analysis.IsStopword(tok):
		default:
			if cat, ok := guardrail.PlaceholderCategory(tok); ok {
				c.placeholders = append(c.placeholders, cat)
				continue
			}
			c.terms = append(c.terms, analysis.Stem(tok))
		}
	}
	return c
}

func hasNumbers(c claimTerms, ev chunkTerms) bool {
	for _, n := range c.numbers {
		if _, ok := ev.tokens[n]; !ok {
			return false
		}
	}
	return true
}

func (g *GroundingScorer) lexicallySupports(c claimTerms, ev chunkTerms) bool {
	if !hasNumbers(c, ev) {
		return false
	}
	total := len(c.terms) + len(c.placeholders)
	if total == 0 {
		return len(c.numbers) > 0
	}
	hit := 0
	for _, t := range c.terms {
		if _, ok := ev.terms[t]; ok {
			hit++
		}
	}
	for _, cat := range c.placeholders {
		if g.placeholders != nil && g.placeholders.Contains(cat, ev.text) {
			hit++
		}
	}
	return float64(hit)/float64(total) >= g.cfg.SupportRatio
}

func (g *GroundingScorer) semanticallySupports(ctx context.Context, embedder embedding.Embedder, c claimTerms, evidence []chunkTerms, chunkVecs [][]float32) int {
	claimVec, err := embedder.Embed(ctx, c.text)
	if err != nil {
		g.logger.Debug("claim embedding failed", zap.Error(err))
		return -1
	}
	for j, v := range chunkVecs {
		if j >= len(evidence) || !hasNumbers(c, evidence[j]) {
			continue
		}
		if vector.CosineSimilarity(claimVec, v) >= g.cfg.SemanticThreshold {
			return j
		}
	}
	return -1
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}
