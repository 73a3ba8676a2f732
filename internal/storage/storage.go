// Package storage persists policy documents, review cases and expert feedback.
package storage

import (
	"context"
	"fmt"

	"github.com/hyperjump/kakunin/internal/config"
	"github.com/hyperjump/kakunin/internal/corpus"
	"github.com/hyperjump/kakunin/internal/prompt"
	"github.com/hyperjump/kakunin/internal/review"
)

// Store is implemented by every backend.
type Store interface {
	corpus.DocumentStore
	review.Store
	prompt.VersionStore
}

var (
	_ Store = (*SQLiteStorage)(nil)
	_ Store = (*PostgresStorage)(nil)
	_ Store = (*MemoryStorage)(nil)
)

// MemoryStorage keeps everything in process memory. Nothing survives a restart.
type MemoryStorage struct {
	*corpus.MemoryDocumentStore
	*review.MemoryStore
	*prompt.MemoryVersionStore
}

// NewMemoryStorage returns an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		MemoryDocumentStore: corpus.NewMemoryDocumentStore(),
		MemoryStore:         review.NewMemoryStore(),
		MemoryVersionStore:  prompt.NewMemoryVersionStore(),
	}
}

// Open returns the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		s, err := NewSQLiteStorage(ctx, cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		p, err := OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "memory":
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
