package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hyperjump/kakunin/internal/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and the cross-field constraints between
// retrieval, scoring and review settings. Errors wrap models.ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", models.ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}
	if err := c.Retrieval.Weights.Validate(); err != nil {
		return fmt.Errorf("retrieval: %w", err)
	}
	if err := c.Scoring.Weights.Validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	// A confident model alone must never clear the review threshold.
	if c.Scoring.Weights.Certainty >= c.Review.Threshold {
		return fmt.Errorf("%w: certainty weight %g must be below review threshold %g",
			models.ErrInvalidConfig, c.Scoring.Weights.Certainty, c.Review.Threshold)
	}
	if c.Storage.Driver == "sqlite" && c.Storage.DatabasePath == "" {
		return fmt.Errorf("%w: storage.database_path is required for sqlite", models.ErrInvalidConfig)
	}
	if c.Generation.Provider == "ollama" && c.Generation.BaseURL == "" {
		return fmt.Errorf("%w: generation.base_url is required for ollama", models.ErrInvalidConfig)
	}
	return nil
}
