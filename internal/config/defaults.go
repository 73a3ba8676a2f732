package config

import (
	"time"

	"github.com/hyperjump/kakunin/internal/models"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kakunin/data/kakunin.db"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "mock"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/kakunin/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Corpus.ChunkSize == 0 {
		cfg.Corpus.ChunkSize = 120
	}
	if cfg.Corpus.ChunkOverlap == 0 {
		cfg.Corpus.ChunkOverlap = 20
	}
	if cfg.Corpus.Extensions == nil {
		cfg.Corpus.Extensions = []string{".txt", ".md", ".pdf", ".docx", ".xlsx"}
	}
	if len(cfg.Corpus.Directories) > 0 && cfg.Corpus.Recursive == nil {
		t := true
		cfg.Corpus.Recursive = &t
	}
	if cfg.Corpus.RebuildDebounce == 0 {
		cfg.Corpus.RebuildDebounce = 2 * time.Second
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.CandidateK == 0 {
		cfg.Retrieval.CandidateK = 50
	}
	if cfg.Retrieval.Weights == (models.FusionWeights{}) {
		cfg.Retrieval.Weights = models.FusionWeights{Lexical: 0.4, Vector: 0.6}
	}
	if cfg.Retrieval.MinRelevance == 0 {
		cfg.Retrieval.MinRelevance = 0.05
	}
	if cfg.Retrieval.RetryBackoff == 0 {
		cfg.Retrieval.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.Prompts.TemplateID == "" {
		cfg.Prompts.TemplateID = "policy_qa"
	}
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "mock"
	}
	if cfg.Generation.BaseURL == "" {
		cfg.Generation.BaseURL = "http://localhost:11434"
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "llama3.2"
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 30 * time.Second
	}
	if cfg.Generation.RetryBackoff == 0 {
		cfg.Generation.RetryBackoff = 250 * time.Millisecond
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 512
	}
	if cfg.Generation.RateLimit == 0 {
		cfg.Generation.RateLimit = 5
	}
	if cfg.Generation.RateBurst == 0 {
		cfg.Generation.RateBurst = 5
	}
	if cfg.Scoring.Weights == (models.ConfidenceWeights{}) {
		cfg.Scoring.Weights = models.ConfidenceWeights{Grounding: 0.5, Coverage: 0.3, Certainty: 0.2}
	}
	if cfg.Scoring.SupportRatio == 0 {
		cfg.Scoring.SupportRatio = 0.6
	}
	if cfg.Scoring.SemanticThreshold == 0 {
		cfg.Scoring.SemanticThreshold = 0.8
	}
	if cfg.Review.Threshold == 0 {
		cfg.Review.Threshold = 0.85
	}
	if cfg.Review.Timeout == 0 {
		cfg.Review.Timeout = 24 * time.Hour
	}
	if cfg.Review.SweepInterval == 0 {
		cfg.Review.SweepInterval = 5 * time.Minute
	}
	if cfg.Feedback.EventLog == "" {
		cfg.Feedback.EventLog = "memory"
	}
	if cfg.Feedback.Stream == "" {
		cfg.Feedback.Stream = "kakunin:review-outcomes"
	}
	if cfg.Feedback.WindowSize == 0 {
		cfg.Feedback.WindowSize = 50
	}
	if cfg.Feedback.MinSamples == 0 {
		cfg.Feedback.MinSamples = 10
	}
	if cfg.Feedback.RejectionCeiling == 0 {
		cfg.Feedback.RejectionCeiling = 0.3
	}
	if cfg.Feedback.TargetPrecision == 0 {
		cfg.Feedback.TargetPrecision = 0.95
	}
	if cfg.Feedback.PollInterval == 0 {
		cfg.Feedback.PollInterval = time.Second
	}
}
