package review

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hyperjump/kakunin/internal/models"
	"github.com/mohae/deepcopy"
)

// ErrConflict is returned by Store.Transition when the case no longer matches
// the expected state or owner.
var ErrConflict = errors.New("review case changed concurrently")

// Transition is a conditional update of one case. It applies only when the
// case is in From and, when set, the owner conditions hold.
type Transition struct {
	CaseID string
	From   models.CaseState
	To     models.CaseState
	Actor  string
	At     time.Time

	// RequireUnowned makes the update conditional on the case having no owner.
	RequireUnowned bool
	// ExpectOwner makes the update conditional on the current owner.
	ExpectOwner string
	// SetOwner assigns the owner when non-empty.
	SetOwner string
	// Decision is recorded when non-empty.
	Decision models.Decision
	// Feedback is stored in the same atomic step when non-nil.
	Feedback *models.ExpertFeedback
}

// Store persists review cases and expert feedback.
type Store interface {
	CreateCase(ctx context.Context, c *models.ReviewCase) error
	GetCase(ctx context.Context, id string) (*models.ReviewCase, error)
	// Transition applies t atomically: state, owner, decision, one history
	// entry and the feedback record. It returns the updated case, or an error
	// wrapping ErrConflict when the conditions do not hold.
	Transition(ctx context.Context, t Transition) (*models.ReviewCase, error)
	// ListOpen returns pending_review and in_review cases created before cutoff.
	ListOpen(ctx context.Context, cutoff time.Time) ([]*models.ReviewCase, error)
	ListFeedback(ctx context.Context, caseID string) ([]models.ExpertFeedback, error)
	CountByState(ctx context.Context) (map[models.CaseState]int, error)
	Close() error
}

// apply mutates c according to t after the conditions have been checked.
// Shared by the store implementations.
func apply(c *models.ReviewCase, t Transition) {
	c.History = append(c.History, models.StateChange{From: c.State, To: t.To, Actor: t.Actor, At: t.At})
	c.State = t.To
	c.UpdatedAt = t.At
	if t.SetOwner != "" {
		c.Owner = t.SetOwner
	}
	if t.Decision != "" {
		c.Decision = t.Decision
	}
}

// Matches reports whether c satisfies the conditions of t.
func (t Transition) Matches(c *models.ReviewCase) bool {
	if c.State != t.From {
		return false
	}
	if t.RequireUnowned && c.Owner != "" {
		return false
	}
	if t.ExpectOwner != "" && c.Owner != t.ExpectOwner {
		return false
	}
	return true
}

// Apply checks the edge and conditions of t against c and applies it.
func (t Transition) Apply(c *models.ReviewCase) error {
	if err := checkTransition(t.From, t.To); err != nil {
		return err
	}
	if !t.Matches(c) {
		return fmt.Errorf("%w: case %s is %s", ErrConflict, c.ID, c.State)
	}
	apply(c, t)
	return nil
}

// MemoryStore keeps cases in memory. Stored and returned cases are deep copies.
type MemoryStore struct {
	mu       sync.Mutex
	cases    map[string]*models.ReviewCase
	feedback map[string][]models.ExpertFeedback
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cases:    make(map[string]*models.ReviewCase),
		feedback: make(map[string][]models.ExpertFeedback),
	}
}

func clone(c *models.ReviewCase) *models.ReviewCase {
	return deepcopy.Copy(c).(*models.ReviewCase)
}

// CreateCase implements Store.
func (m *MemoryStore) CreateCase(_ context.Context, c *models.ReviewCase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cases[c.ID]; ok {
		return fmt.Errorf("%w: case %s already exists", models.ErrInvalidInput, c.ID)
	}
	m.cases[c.ID] = clone(c)
	return nil
}

// GetCase implements Store.
func (m *MemoryStore) GetCase(_ context.Context, id string) (*models.ReviewCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok {
		return nil, fmt.Errorf("%w: review case %s", models.ErrNotFound, id)
	}
	return clone(c), nil
}

// Transition implements Store.
func (m *MemoryStore) Transition(_ context.Context, t Transition) (*models.ReviewCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[t.CaseID]
	if !ok {
		return nil, fmt.Errorf("%w: review case %s", models.ErrNotFound, t.CaseID)
	}
	next := clone(c)
	if err := t.Apply(next); err != nil {
		return nil, err
	}
	m.cases[t.CaseID] = next
	if t.Feedback != nil {
		m.feedback[t.CaseID] = append(m.feedback[t.CaseID], *t.Feedback)
	}
	return clone(next), nil
}

// ListOpen implements Store.
func (m *MemoryStore) ListOpen(_ context.Context, cutoff time.Time) ([]*models.ReviewCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ReviewCase
	for _, c := range m.cases {
		if c.State.Open() && c.CreatedAt.Before(cutoff) {
			out = append(out, clone(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListFeedback implements Store.
func (m *MemoryStore) ListFeedback(_ context.Context, caseID string) ([]models.ExpertFeedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ExpertFeedback(nil), m.feedback[caseID]...), nil
}

// CountByState implements Store.
func (m *MemoryStore) CountByState(_ context.Context) (map[models.CaseState]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[models.CaseState]int)
	for _, c := range m.cases {
		out[c.State]++
	}
	return out, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
