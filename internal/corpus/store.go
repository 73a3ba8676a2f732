// Package corpus holds policy documents and serves immutable, searchable
// snapshots of their chunks.
package corpus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hyperjump/kakunin/internal/models"
)

// DocumentStore persists policy documents. PutDocument inserts or replaces.
type DocumentStore interface {
	PutDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context) ([]*models.Document, error)
}

// MemoryDocumentStore is a DocumentStore kept in process memory.
type MemoryDocumentStore struct {
	mu   sync.RWMutex
	docs map[string]*models.Document
}

// NewMemoryDocumentStore returns an empty store.
func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: make(map[string]*models.Document)}
}

// PutDocument stores a copy of doc, keeping CreatedAt of an existing entry.
func (m *MemoryDocumentStore) PutDocument(ctx context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	cp := *doc
	cp.CreatedAt = now
	if prev, ok := m.docs[doc.ID]; ok {
		cp.CreatedAt = prev.CreatedAt
	}
	cp.UpdatedAt = now
	m.docs[doc.ID] = &cp
	doc.CreatedAt, doc.UpdatedAt = cp.CreatedAt, cp.UpdatedAt
	return nil
}

// GetDocument returns a copy of the document or ErrNotFound.
func (m *MemoryDocumentStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	cp := *doc
	return &cp, nil
}

// DeleteDocument removes a document or returns ErrNotFound.
func (m *MemoryDocumentStore) DeleteDocument(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	delete(m.docs, id)
	return nil
}

// ListDocuments returns all documents ordered by id.
func (m *MemoryDocumentStore) ListDocuments(ctx context.Context) ([]*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Document, 0, len(m.docs))
	for _, doc := range m.docs {
		cp := *doc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
