// Package generation is the call boundary to the text-generation backend.
package generation

import (
	"context"

	"github.com/hyperjump/kakunin/internal/models"
)

// Options are per-call sampling settings.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Generator produces text for a rendered prompt. Implementations fail with
// models.ErrGenerationUnavailable or models.ErrGenerationTimeout.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (models.GenerationResult, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string, opts Options) (models.GenerationResult, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string, opts Options) (models.GenerationResult, error) {
	return f(ctx, prompt, opts)
}
