package prompt

import (
	"context"
	"sort"
	"sync"

	"github.com/hyperjump/kakunin/internal/models"
)

// VersionStore persists prompt versions. SavePromptVersions writes every
// version in one transaction: a new row is inserted, an existing row only has
// its status and promotion times updated, never its body.
type VersionStore interface {
	SavePromptVersions(ctx context.Context, versions ...models.PromptVersion) error
	ListPromptVersions(ctx context.Context) ([]models.PromptVersion, error)
}

// MemoryVersionStore is a VersionStore kept in process memory.
type MemoryVersionStore struct {
	mu       sync.Mutex
	versions map[models.PromptRef]models.PromptVersion
}

// NewMemoryVersionStore returns an empty store.
func NewMemoryVersionStore() *MemoryVersionStore {
	return &MemoryVersionStore{versions: make(map[models.PromptRef]models.PromptVersion)}
}

// SavePromptVersions implements VersionStore.
func (m *MemoryVersionStore) SavePromptVersions(_ context.Context, versions ...models.PromptVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range versions {
		if prev, ok := m.versions[v.Ref()]; ok {
			v.Body = prev.Body
			v.CreatedAt = prev.CreatedAt
		}
		m.versions[v.Ref()] = v
	}
	return nil
}

// ListPromptVersions implements VersionStore. Versions are ordered by template
// id, then version number.
func (m *MemoryVersionStore) ListPromptVersions(_ context.Context) ([]models.PromptVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PromptVersion, 0, len(m.versions))
	for _, v := range m.versions {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TemplateID != out[j].TemplateID {
			return out[i].TemplateID < out[j].TemplateID
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}
