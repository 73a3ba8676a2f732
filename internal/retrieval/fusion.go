package retrieval

import (
	"sort"

	"github.com/hyperjump/kakunin/internal/corpus"
	"github.com/hyperjump/kakunin/internal/models"
)

// NormalizeLexical divides every raw lexical score by the best score of the
// query, so the top hit is 1.
func NormalizeLexical(hits []corpus.Hit) map[string]float64 {
	normalized := make(map[string]float64, len(hits))
	var best float64
	for _, h := range hits {
		if h.Score > best {
			best = h.Score
		}
	}
	if best <= 0 {
		return normalized
	}
	for _, h := range hits {
		normalized[h.ChunkID] = h.Score / best
	}
	return normalized
}

// NormalizeVector clamps cosine similarities into [0,1].
func NormalizeVector(hits []corpus.Hit) map[string]float64 {
	normalized := make(map[string]float64, len(hits))
	for _, h := range hits {
		normalized[h.ChunkID] = clamp01(h.Score)
	}
	return normalized
}

// Fuse combines per-chunk lexical and vector scores with weights. A chunk found
// by one ranking only gets 0 for the other. Results are ordered by fused score
// descending, then vector score descending, then chunk id ascending.
func Fuse(lexical, dense map[string]float64, weights models.FusionWeights) []*models.ScoredChunk {
	byID := make(map[string]*models.ScoredChunk, len(lexical)+len(dense))
	for id, s := range lexical {
		byID[id] = &models.ScoredChunk{ChunkID: id, LexicalScore: s}
	}
	for id, s := range dense {
		if sc, ok := byID[id]; ok {
			sc.VectorScore = s
			continue
		}
		byID[id] = &models.ScoredChunk{ChunkID: id, VectorScore: s}
	}
	out := make([]*models.ScoredChunk, 0, len(byID))
	for _, sc := range byID {
		sc.FusedScore = weights.Lexical*sc.LexicalScore + weights.Vector*sc.VectorScore
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.FusedScore != b.FusedScore {
			return a.FusedScore > b.FusedScore
		}
		if a.VectorScore != b.VectorScore {
			return a.VectorScore > b.VectorScore
		}
		return a.ChunkID < b.ChunkID
	})
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
