package retrieval

import (
	"testing"

	"github.com/hyperjump/kakunin/internal/corpus"
	"github.com/hyperjump/kakunin/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeLexical(t *testing.T) {
	got := NormalizeLexical([]corpus.Hit{{ChunkID: "a", Score: 2}, {ChunkID: "b", Score: 1}})
	assert.Equal(t, map[string]float64{"a": 1, "b": 0.5}, got)
	assert.Empty(t, NormalizeLexical(nil))
}

func TestNormalizeVector_clamps(t *testing.T) {
	got := NormalizeVector([]corpus.Hit{{ChunkID: "a", Score: 1.0000001}, {ChunkID: "b", Score: -0.2}})
	assert.Equal(t, 1.0, got["a"])
	assert.Equal(t, 0.0, got["b"])
}

func TestFuse_tieBreak(t *testing.T) {
	w := models.FusionWeights{Lexical: 0.5, Vector: 0.5}
	// x and y both fuse to 0.5; y has the higher vector score. z and w tie fully.
	got := Fuse(
		map[string]float64{"x": 1, "y": 0.25, "z": 0.25, "w": 0.25},
		map[string]float64{"y": 0.75, "z": 0.25, "w": 0.25},
		w)
	ids := make([]string, len(got))
	for i, sc := range got {
		ids[i] = sc.ChunkID
	}
	assert.Equal(t, []string{"y", "x", "w", "z"}, ids)
}

func TestFuse_monotonicInComponents(t *testing.T) {
	w := models.FusionWeights{Lexical: 0.3, Vector: 0.7}
	base := Fuse(map[string]float64{"a": 0.4}, map[string]float64{"a": 0.5}, w)[0].FusedScore
	for _, bump := range []float64{0.1, 0.3, 0.6} {
		lex := Fuse(map[string]float64{"a": 0.4 + bump}, map[string]float64{"a": 0.5}, w)[0].FusedScore
		vec := Fuse(map[string]float64{"a": 0.4}, map[string]float64{"a": minf(0.5+bump, 1)}, w)[0].FusedScore
		assert.GreaterOrEqual(t, lex, base)
		assert.GreaterOrEqual(t, vec, base)
	}
}

func TestFuse_rankMonotonicInComponents(t *testing.T) {
	w := models.FusionWeights{Lexical: 0.3, Vector: 0.7}
	lexical := map[string]float64{"a": 0.2, "b": 0.9, "c": 0.5, "d": 0.1}
	dense := map[string]float64{"a": 0.3, "b": 0.4, "c": 0.6, "d": 0.2}
	before := fusedRanks(Fuse(lexical, dense, w))

	for _, bump := range []float64{0.05, 0.2, 0.4, 0.7} {
		for _, component := range []string{"lexical", "vector"} {
			lex := copyScores(lexical)
			vec := copyScores(dense)
			if component == "lexical" {
				lex["a"] = minf(lex["a"]+bump, 1)
			} else {
				vec["a"] = minf(vec["a"]+bump, 1)
			}
			after := fusedRanks(Fuse(lex, vec, w))

			assert.LessOrEqual(t, after["a"], before["a"], "%s +%.2f moved a down", component, bump)
			for id, r := range after {
				if id == "a" {
					continue
				}
				if before[id] > before["a"] {
					assert.Greater(t, r, after["a"], "%s +%.2f: a fell below %s", component, bump, id)
				}
				for other, or := range after {
					if other == "a" || other == id {
						continue
					}
					assert.Equal(t, before[id] < before[other], r < or,
						"%s +%.2f reordered %s and %s", component, bump, id, other)
				}
			}
		}
	}
}

func fusedRanks(chunks []*models.ScoredChunk) map[string]int {
	ranks := make(map[string]int, len(chunks))
	for i, sc := range chunks {
		ranks[sc.ChunkID] = i
	}
	return ranks
}

func copyScores(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func TestFuse_deductibleExample(t *testing.T) {
	got := Fuse(
		map[string]float64{"policy#0000": 0.4},
		map[string]float64{"policy#0000": 0.9},
		models.FusionWeights{Lexical: 0.3, Vector: 0.7})
	assert.Len(t, got, 1)
	assert.InDelta(t, 0.75, got[0].FusedScore, 1e-9)
}
