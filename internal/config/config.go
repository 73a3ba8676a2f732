// Package config provides configuration loading, defaults, and validation for the kakunin server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/kakunin/internal/models"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Corpus     CorpusConfig     `yaml:"corpus"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Guardrail  GuardrailConfig  `yaml:"guardrail"`
	Prompts    PromptsConfig    `yaml:"prompts"`
	Generation GenerationConfig `yaml:"generation"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Review     ReviewConfig     `yaml:"review"`
	Feedback   FeedbackConfig   `yaml:"feedback"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host" validate:"required"`
	Port           int           `yaml:"port" validate:"gt=0,lte=65535"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
}

// StorageConfig selects the review store and its location.
type StorageConfig struct {
	Driver       string `yaml:"driver" validate:"oneof=sqlite postgres memory"`
	DatabasePath string `yaml:"database_path"`
	PostgresDSN  string `yaml:"postgres_dsn" validate:"required_if=Driver postgres"`
}

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider" validate:"oneof=mock onnx"`
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions" validate:"gt=0"`
	MaxTokens  int    `yaml:"max_tokens" validate:"gt=0"`
	CacheSize  int    `yaml:"cache_size" validate:"gte=0"`
}

// CorpusConfig holds chunking and directory watch settings for policy documents.
type CorpusConfig struct {
	ChunkSize       int           `yaml:"chunk_size" validate:"gt=0"`
	ChunkOverlap    int           `yaml:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
	Directories     []string      `yaml:"directories"`
	Extensions      []string      `yaml:"extensions"`
	Recursive       *bool         `yaml:"recursive"`
	RebuildDebounce time.Duration `yaml:"rebuild_debounce" validate:"gte=0"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (c *CorpusConfig) RecursiveOrDefault() bool {
	if c.Recursive != nil {
		return *c.Recursive
	}
	return true
}

// RetrievalConfig holds hybrid retrieval settings.
type RetrievalConfig struct {
	TopK         int                  `yaml:"top_k" validate:"gte=1"`
	CandidateK   int                  `yaml:"candidate_k" validate:"gtefield=TopK"`
	Weights      models.FusionWeights `yaml:"weights"`
	MinRelevance float64              `yaml:"min_relevance" validate:"gte=0,lte=1"`
	RetryBackoff time.Duration        `yaml:"retry_backoff" validate:"gte=0"`
}

// GuardrailConfig holds extra allow patterns (regular expressions) that are never redacted.
type GuardrailConfig struct {
	AllowPatterns []string `yaml:"allow_patterns"`
}

// PromptsConfig points at the prompt catalogue.
type PromptsConfig struct {
	Path       string `yaml:"path"`
	TemplateID string `yaml:"template_id" validate:"required"`
}

// GenerationConfig holds generation backend settings.
type GenerationConfig struct {
	Provider      string        `yaml:"provider" validate:"oneof=ollama mock"`
	BaseURL       string        `yaml:"base_url" validate:"omitempty,url"`
	Model         string        `yaml:"model" validate:"required"`
	Timeout       time.Duration `yaml:"timeout" validate:"gt=0"`
	RetryBackoff  time.Duration `yaml:"retry_backoff" validate:"gte=0"`
	Temperature   float64       `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens     int           `yaml:"max_tokens" validate:"gt=0"`
	RateLimit     float64       `yaml:"rate_limit" validate:"gte=0"`
	RateBurst     int           `yaml:"rate_burst" validate:"gte=0"`
	MockCertainty *float64      `yaml:"mock_certainty" validate:"omitempty,gte=0,lte=1"`
}

// ScoringConfig holds grounding and aggregation settings.
type ScoringConfig struct {
	Weights           models.ConfidenceWeights `yaml:"weights"`
	SupportRatio      float64                  `yaml:"support_ratio" validate:"gt=0,lte=1"`
	SemanticThreshold float64                  `yaml:"semantic_threshold" validate:"gte=0,lte=1"`
}

// ReviewConfig holds escalation settings.
type ReviewConfig struct {
	Threshold     float64       `yaml:"threshold" validate:"gt=0,lte=1"`
	Timeout       time.Duration `yaml:"timeout" validate:"gt=0"`
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"gt=0"`
}

// FeedbackConfig holds event log and regression-flag settings.
type FeedbackConfig struct {
	EventLog         string        `yaml:"event_log" validate:"oneof=memory redis"`
	RedisAddr        string        `yaml:"redis_addr" validate:"required_if=EventLog redis"`
	Stream           string        `yaml:"stream" validate:"required"`
	WindowSize       int           `yaml:"window_size" validate:"gt=0"`
	MinSamples       int           `yaml:"min_samples" validate:"gt=0,ltefield=WindowSize"`
	RejectionCeiling float64       `yaml:"rejection_ceiling" validate:"gt=0,lte=1"`
	TargetPrecision  float64       `yaml:"target_precision" validate:"gt=0,lte=1"`
	PollInterval     time.Duration `yaml:"poll_interval" validate:"gt=0"`
}

// Load reads and parses the config file at path, expands paths, applies defaults
// and environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Prompts.Path = expandPath(cfg.Prompts.Path, configDir)
	for i := range cfg.Corpus.Directories {
		cfg.Corpus.Directories[i] = expandPath(cfg.Corpus.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration built only from defaults and environment overrides.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)
	return &cfg
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
