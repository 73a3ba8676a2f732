package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/kakunin/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingPublisher struct {
	mu       sync.Mutex
	outcomes []models.ReviewOutcome
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, o models.ReviewOutcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, o)
	return p.err
}

func (p *recordingPublisher) all() []models.ReviewOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.ReviewOutcome(nil), p.outcomes...)
}

type fixture struct {
	store *MemoryStore
	clock *fakeClock
	pub   *recordingPublisher
	orch  *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: NewMemoryStore(),
		clock: &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		pub:   &recordingPublisher{},
	}
	n := 0
	f.orch = NewOrchestrator(f.store, Config{Threshold: 0.85, Timeout: 24 * time.Hour},
		WithClock(f.clock.Now),
		WithPublisher(f.pub),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("case-%d", n) }))
	return f
}

func draft(score float64, reasons ...string) Draft {
	return Draft{
		Query:      "Is flood damage covered?",
		Answer:     "Flood damage is excluded under clause 4.2.",
		Confidence: models.ConfidenceScore{Score: score},
		Prompt:     models.PromptRef{TemplateID: "policy_qa", Version: 1},
		Reasons:    reasons,
	}
}

func (f *fixture) escalate(t *testing.T) *models.ReviewCase {
	t.Helper()
	c, err := f.orch.Decide(context.Background(), draft(0.4))
	require.NoError(t, err)
	require.Equal(t, models.StatePendingReview, c.State)
	return c
}

func TestCanTransition(t *testing.T) {
	valid := [][2]models.CaseState{
		{models.StateCreated, models.StateAutoApproved},
		{models.StateCreated, models.StatePendingReview},
		{models.StatePendingReview, models.StateInReview},
		{models.StatePendingReview, models.StateExpired},
		{models.StateInReview, models.StateApproved},
		{models.StateInReview, models.StateRejected},
		{models.StateInReview, models.StateExpired},
	}
	for _, e := range valid {
		assert.True(t, CanTransition(e[0], e[1]), "%s -> %s", e[0], e[1])
	}
	invalid := [][2]models.CaseState{
		{models.StateCreated, models.StateApproved},
		{models.StatePendingReview, models.StateApproved},
		{models.StateApproved, models.StateRejected},
		{models.StateExpired, models.StateInReview},
		{models.StateAutoApproved, models.StatePendingReview},
	}
	for _, e := range invalid {
		assert.False(t, CanTransition(e[0], e[1]), "%s -> %s", e[0], e[1])
	}
}

func TestTransition_Apply_rejectsInvalidEdge(t *testing.T) {
	c := &models.ReviewCase{ID: "x", State: models.StatePendingReview}
	err := Transition{From: models.StatePendingReview, To: models.StateApproved}.Apply(c)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	assert.Empty(t, c.History)
}

func TestDecide_autoApproves(t *testing.T) {
	f := newFixture(t)
	c, err := f.orch.Decide(context.Background(), draft(0.9))
	require.NoError(t, err)
	assert.Equal(t, models.StateAutoApproved, c.State)
	assert.Empty(t, c.ID)
	require.Len(t, c.History, 1)
	assert.Equal(t, models.StateCreated, c.History[0].From)

	counts, err := f.store.CountByState(context.Background())
	require.NoError(t, err)
	assert.Empty(t, counts, "auto-approved cases are not persisted")
}

func TestDecide_escalatesLowConfidence(t *testing.T) {
	f := newFixture(t)
	c := f.escalate(t)
	assert.Equal(t, "case-1", c.ID)
	assert.Equal(t, []string{models.ReasonLowConfidence}, c.EscalationReasons)

	stored, err := f.orch.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatePendingReview, stored.State)
	assert.True(t, ValidHistory(stored.History))
}

func TestDecide_forcedReasonsOverrideScore(t *testing.T) {
	f := newFixture(t)
	c, err := f.orch.Decide(context.Background(), draft(0.99, models.ReasonCertaintyMissing))
	require.NoError(t, err)
	assert.Equal(t, models.StatePendingReview, c.State)
	assert.Equal(t, []string{models.ReasonCertaintyMissing}, c.EscalationReasons)
}

func TestDecide_thresholdIsInclusive(t *testing.T) {
	f := newFixture(t)
	c, err := f.orch.Decide(context.Background(), draft(0.85))
	require.NoError(t, err)
	assert.Equal(t, models.StateAutoApproved, c.State)
}

func TestClaim_singleWinner(t *testing.T) {
	f := newFixture(t)
	c := f.escalate(t)

	const reviewers = 16
	var wg sync.WaitGroup
	errs := make([]error, reviewers)
	for i := 0; i < reviewers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.orch.Claim(context.Background(), c.ID, fmt.Sprintf("expert-%d", i))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.ErrorIs(t, err, models.ErrAlreadyClaimed)
	}
	assert.Equal(t, 1, winners)

	stored, err := f.orch.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateInReview, stored.State)
	assert.NotEmpty(t, stored.Owner)
	assert.Len(t, stored.History, 2)
}

func TestClaim_errors(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Claim(context.Background(), "missing", "expert-1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	c := f.escalate(t)
	_, err = f.orch.Claim(context.Background(), c.ID, "")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestSubmitDecision(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.escalate(t)

	_, err := f.orch.SubmitDecision(ctx, c.ID, "expert-1", models.DecisionApprove, "")
	assert.ErrorIs(t, err, models.ErrInvalidState, "pending case cannot be decided")

	f.clock.Advance(time.Minute)
	_, err = f.orch.Claim(ctx, c.ID, "expert-1")
	require.NoError(t, err)

	_, err = f.orch.SubmitDecision(ctx, c.ID, "expert-2", models.DecisionApprove, "")
	assert.ErrorIs(t, err, models.ErrNotOwner)
	_, err = f.orch.SubmitDecision(ctx, c.ID, "expert-1", models.Decision("maybe"), "")
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	f.clock.Advance(time.Minute)
	decided, err := f.orch.SubmitDecision(ctx, c.ID, "expert-1", models.DecisionReject, "wrong clause cited")
	require.NoError(t, err)
	assert.Equal(t, models.StateRejected, decided.State)
	assert.Equal(t, models.DecisionReject, decided.Decision)
	assert.True(t, ValidHistory(decided.History))
	assert.Len(t, decided.History, 3)

	fb, err := f.orch.Feedback(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, fb, 1)
	assert.Equal(t, "expert-1", fb[0].ExpertID)
	assert.Equal(t, "wrong clause cited", fb[0].Comment)

	outcomes := f.pub.all()
	require.Len(t, outcomes, 1)
	assert.Equal(t, models.StateRejected, outcomes[0].State)
	assert.Equal(t, "expert-1", outcomes[0].Actor)
	assert.Equal(t, models.PromptRef{TemplateID: "policy_qa", Version: 1}, outcomes[0].Prompt)

	_, err = f.orch.SubmitDecision(ctx, c.ID, "expert-1", models.DecisionApprove, "")
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestSubmitDecision_publishFailureKeepsDecision(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.pub.err = errors.New("log unavailable")
	c := f.escalate(t)
	_, err := f.orch.Claim(ctx, c.ID, "expert-1")
	require.NoError(t, err)
	decided, err := f.orch.SubmitDecision(ctx, c.ID, "expert-1", models.DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, models.StateApproved, decided.State)
}

func TestExpireStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pending := f.escalate(t)
	claimed := f.escalate(t)
	_, err := f.orch.Claim(ctx, claimed.ID, "expert-1")
	require.NoError(t, err)

	f.clock.Advance(23 * time.Hour)
	fresh := f.escalate(t)

	f.clock.Advance(2 * time.Hour)
	n, err := f.orch.ExpireStale(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{pending.ID, claimed.ID} {
		c, err := f.orch.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StateExpired, c.State)
		assert.Equal(t, models.DecisionReject, c.Decision, "expiry never approves")
		assert.True(t, ValidHistory(c.History))
		assert.Equal(t, models.ActorSystem, c.History[len(c.History)-1].Actor)
	}
	c, err := f.orch.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatePendingReview, c.State)

	outcomes := f.pub.all()
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.Equal(t, models.StateExpired, o.State)
		assert.Equal(t, models.DecisionReject, o.Decision)
	}

	_, err = f.orch.Claim(ctx, pending.ID, "expert-2")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	_, err = f.orch.SubmitDecision(ctx, claimed.ID, "expert-1", models.DecisionApprove, "")
	assert.ErrorIs(t, err, models.ErrInvalidState)

	n, err = f.orch.ExpireStale(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHistoryTimestampsNeverGoBackwards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.escalate(t)
	f.clock.Advance(-time.Hour)
	claimed, err := f.orch.Claim(ctx, c.ID, "expert-1")
	require.NoError(t, err)
	assert.True(t, ValidHistory(claimed.History))
	assert.False(t, claimed.History[1].At.Before(claimed.History[0].At))
}

func TestMemoryStore_returnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := &models.ReviewCase{ID: "a", State: models.StatePendingReview, Citations: []string{"doc#0"}}
	require.NoError(t, s.CreateCase(ctx, c))
	c.Citations[0] = "mutated"

	got, err := s.GetCase(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "doc#0", got.Citations[0])
	got.State = models.StateApproved

	again, err := s.GetCase(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.StatePendingReview, again.State)

	assert.ErrorIs(t, s.CreateCase(ctx, c), models.ErrInvalidInput)
	_, err = s.Transition(ctx, Transition{CaseID: "a", From: models.StateInReview, To: models.StateApproved})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestSweeper(t *testing.T) {
	_, err := NewSweeper(nil, 0, nil)
	assert.Error(t, err)

	f := newFixture(t)
	c := f.escalate(t)
	f.clock.Advance(48 * time.Hour)

	s, err := NewSweeper(f.orch, time.Second, nil)
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := f.orch.Get(context.Background(), c.ID)
		require.NoError(t, err)
		if got.State == models.StateExpired {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("sweeper did not expire the stale case")
}
