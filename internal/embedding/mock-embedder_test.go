package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/hyperjump/kakunin/internal/config"
)

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestMockEmbedder_deterministicAndNormalised(t *testing.T) {
	e := NewMockEmbedder(64)
	ctx := context.Background()
	a, _ := e.Embed(ctx, "Flood damage is covered up to the sum insured")
	b, _ := e.Embed(ctx, "Flood damage is covered up to the sum insured")
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("embedding should be deterministic")
		}
	}
	if n := dot(a, a); math.Abs(n-1) > 1e-5 {
		t.Errorf("norm^2 = %f, want 1", n)
	}
}

func TestMockEmbedder_sharedTermsAreSimilar(t *testing.T) {
	e := NewMockEmbedder(256)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "is flood damage covered")
	related, _ := e.Embed(ctx, "flood damage to the insured home is covered")
	unrelated, _ := e.Embed(ctx, "premiums are payable annually by bank transfer")
	if dot(q, related) <= dot(q, unrelated) {
		t.Errorf("related similarity %f should exceed unrelated %f", dot(q, related), dot(q, unrelated))
	}
}

func TestMockEmbedder_emptyTextIsZero(t *testing.T) {
	e := NewMockEmbedder(8)
	v, err := e.Embed(context.Background(), "the of and")
	if err != nil {
		t.Fatal(err)
	}
	for _, x := range v {
		if x != 0 {
			t.Fatalf("expected zero vector, got %v", v)
		}
	}
}

func TestNew(t *testing.T) {
	e, err := New(config.EmbeddingConfig{Provider: "mock", Dimensions: 32, CacheSize: 4})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := e.(*CachedEmbedder); !ok {
		t.Errorf("expected cached embedder, got %T", e)
	}
	if _, err := New(config.EmbeddingConfig{Provider: "nope", Dimensions: 8}); err == nil {
		t.Error("expected error for unknown provider")
	}
}
