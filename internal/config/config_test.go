package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/kakunin/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "./kakunin.db"
review:
  threshold: 0.9
  timeout: 12h
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Review.Threshold != 0.9 {
		t.Errorf("threshold = %v, want 0.9", cfg.Review.Threshold)
	}
	if cfg.Review.Timeout != 12*time.Hour {
		t.Errorf("timeout = %v, want 12h", cfg.Review.Timeout)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./data/kakunin.db"
prompts:
  path: "./prompts.yaml"
corpus:
  directories: ["./policies"]
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "data", "kakunin.db"); cfg.Storage.DatabasePath != want {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, want)
	}
	if want := filepath.Join(dir, "prompts.yaml"); cfg.Prompts.Path != want {
		t.Errorf("prompts path = %s, want %s", cfg.Prompts.Path, want)
	}
	if len(cfg.Corpus.Directories) != 1 || cfg.Corpus.Directories[0] != filepath.Join(dir, "policies") {
		t.Errorf("corpus directories = %v", cfg.Corpus.Directories)
	}
}

func TestLoad_rejectsBadWeights(t *testing.T) {
	path := writeConfig(t, `
retrieval:
  weights:
    lexical: 0.7
    vector: 0.7
`)
	_, err := Load(path)
	if !errors.Is(err, models.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoad_rejectsCertaintyWeightAtThreshold(t *testing.T) {
	path := writeConfig(t, `
scoring:
  weights:
    grounding: 0.05
    coverage: 0.05
    certainty: 0.9
review:
  threshold: 0.85
`)
	_, err := Load(path)
	if !errors.Is(err, models.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoad_rejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: "mongo"
`)
	if _, err := Load(path); !errors.Is(err, models.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoad_postgresRequiresDSN(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: "postgres"
`)
	if _, err := Load(path); !errors.Is(err, models.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8080 {
		t.Errorf("default server: got %+v", cfg.Server)
	}
	if cfg.Retrieval.Weights != (models.FusionWeights{Lexical: 0.4, Vector: 0.6}) {
		t.Errorf("default fusion weights: got %+v", cfg.Retrieval.Weights)
	}
	if cfg.Scoring.Weights != (models.ConfidenceWeights{Grounding: 0.5, Coverage: 0.3, Certainty: 0.2}) {
		t.Errorf("default confidence weights: got %+v", cfg.Scoring.Weights)
	}
	if cfg.Review.Threshold != 0.85 {
		t.Errorf("default threshold: got %v", cfg.Review.Threshold)
	}
	if cfg.Review.Timeout != 24*time.Hour {
		t.Errorf("default review timeout: got %v", cfg.Review.Timeout)
	}
	if len(cfg.Corpus.Extensions) == 0 || cfg.Corpus.Extensions[0] != ".txt" {
		t.Errorf("corpus extensions: got %v", cfg.Corpus.Extensions)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestApplyDefaults_RecursiveWhenDirectoriesSet(t *testing.T) {
	cfg := &Config{Corpus: CorpusConfig{Directories: []string{"/tmp/policies"}}}
	ApplyDefaults(cfg)
	if cfg.Corpus.Recursive == nil || !*cfg.Corpus.Recursive {
		t.Error("recursive should default to true when directories are set")
	}
}

func TestCorpusConfig_RecursiveOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		c := &CorpusConfig{}
		if !c.RecursiveOrDefault() {
			t.Error("RecursiveOrDefault() = false, want true")
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		c := &CorpusConfig{Recursive: &f}
		if c.RecursiveOrDefault() {
			t.Error("RecursiveOrDefault() = true, want false")
		}
	})
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvServerPort, "9191")
	t.Setenv(EnvGenerationModel, "qwen2.5")
	t.Setenv(EnvRedisAddr, "127.0.0.1:6379")
	cfg := Default()
	if cfg.Server.Port != 9191 {
		t.Errorf("port = %d, want 9191", cfg.Server.Port)
	}
	if cfg.Generation.Model != "qwen2.5" {
		t.Errorf("model = %s", cfg.Generation.Model)
	}
	if cfg.Feedback.EventLog != "redis" || cfg.Feedback.RedisAddr != "127.0.0.1:6379" {
		t.Errorf("redis override not applied: %+v", cfg.Feedback)
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{Driver: "memory"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 || loaded.Storage.Driver != "memory" {
		t.Errorf("loaded: got %+v %+v", loaded.Server, loaded.Storage)
	}
}
