package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/kakunin/internal/models"
	"go.uber.org/zap"
)

// Defaults for Config.
const (
	DefaultThreshold = 0.85
	DefaultTimeout   = 24 * time.Hour
)

// Config holds the escalation threshold and review timeout.
type Config struct {
	Threshold float64
	Timeout   time.Duration
}

// Publisher receives an outcome whenever a case reaches a terminal state
// through an expert decision or expiry.
type Publisher interface {
	Publish(ctx context.Context, outcome models.ReviewOutcome) error
}

// Draft is an answer awaiting the approve-or-escalate decision.
type Draft struct {
	Query      string
	DocumentID string
	Answer     string
	Citations  []string
	Confidence models.ConfidenceScore
	Prompt     models.PromptRef
	// Reasons force escalation regardless of the score.
	Reasons []string
}

// Orchestrator drives review cases through the state machine.
type Orchestrator struct {
	store     Store
	cfg       Config
	now       func() time.Time
	newID     func() string
	publisher Publisher
	onChange  func(caseID string, from, to models.CaseState, actor string)
	logger    *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator overrides case id generation.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// WithPublisher sets where terminal outcomes are published.
func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithTransitionHook registers fn to observe every recorded transition.
func WithTransitionHook(fn func(caseID string, from, to models.CaseState, actor string)) Option {
	return func(o *Orchestrator) { o.onChange = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator returns an orchestrator over store.
func NewOrchestrator(store Store, cfg Config, opts ...Option) *Orchestrator {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	o := &Orchestrator{
		store:  store,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Threshold returns the auto-approval threshold.
func (o *Orchestrator) Threshold() float64 { return o.cfg.Threshold }

// Decide builds a case for d. Confident drafts without forced reasons are
// auto-approved and not persisted; everything else is persisted as
// pending_review.
func (o *Orchestrator) Decide(ctx context.Context, d Draft) (*models.ReviewCase, error) {
	now := o.now()
	c := &models.ReviewCase{
		Query:       d.Query,
		DocumentID:  d.DocumentID,
		DraftAnswer: d.Answer,
		Citations:   append([]string(nil), d.Citations...),
		Confidence:  d.Confidence,
		Prompt:      d.Prompt,
		State:       models.StateCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	reasons := append([]string(nil), d.Reasons...)
	if d.Confidence.Score < o.cfg.Threshold {
		reasons = append([]string{models.ReasonLowConfidence}, reasons...)
	}

	if len(reasons) == 0 {
		apply(c, Transition{To: models.StateAutoApproved, Actor: models.ActorSystem, At: now, Decision: models.DecisionApprove})
		o.changed(c.ID, models.StateCreated, models.StateAutoApproved, models.ActorSystem)
		return c, nil
	}

	c.ID = o.newID()
	c.EscalationReasons = reasons
	apply(c, Transition{To: models.StatePendingReview, Actor: models.ActorSystem, At: now})
	if err := o.store.CreateCase(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to persist review case: %w", err)
	}
	o.changed(c.ID, models.StateCreated, models.StatePendingReview, models.ActorSystem)
	o.logger.Info("answer escalated to review",
		zap.String("case_id", c.ID),
		zap.Float64("confidence", d.Confidence.Score),
		zap.Strings("reasons", reasons))
	return c, nil
}

// Get returns a case by id.
func (o *Orchestrator) Get(ctx context.Context, caseID string) (*models.ReviewCase, error) {
	return o.store.GetCase(ctx, caseID)
}

// Feedback returns the expert feedback recorded for a case.
func (o *Orchestrator) Feedback(ctx context.Context, caseID string) ([]models.ExpertFeedback, error) {
	return o.store.ListFeedback(ctx, caseID)
}

// Counts returns the number of stored cases per state.
func (o *Orchestrator) Counts(ctx context.Context) (map[models.CaseState]int, error) {
	return o.store.CountByState(ctx)
}

// at returns the transition time for c, never earlier than its last change.
func (o *Orchestrator) at(c *models.ReviewCase) time.Time {
	now := o.now()
	if now.Before(c.UpdatedAt) {
		return c.UpdatedAt
	}
	return now
}

// Claim assigns a pending case to reviewerID. Of concurrent claims exactly
// one wins; the others get ErrAlreadyClaimed.
func (o *Orchestrator) Claim(ctx context.Context, caseID, reviewerID string) (*models.ReviewCase, error) {
	if reviewerID == "" {
		return nil, fmt.Errorf("%w: reviewer id is required", models.ErrInvalidInput)
	}
	c, err := o.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if err := claimable(c); err != nil {
		return nil, err
	}
	updated, err := o.store.Transition(ctx, Transition{
		CaseID:         caseID,
		From:           models.StatePendingReview,
		To:             models.StateInReview,
		Actor:          reviewerID,
		At:             o.at(c),
		RequireUnowned: true,
		SetOwner:       reviewerID,
	})
	if errors.Is(err, ErrConflict) {
		if current, gerr := o.store.GetCase(ctx, caseID); gerr == nil {
			if cerr := claimable(current); cerr != nil {
				return nil, cerr
			}
		}
		return nil, fmt.Errorf("%w: %s", models.ErrAlreadyClaimed, caseID)
	}
	if err != nil {
		return nil, err
	}
	o.changed(caseID, models.StatePendingReview, models.StateInReview, reviewerID)
	return updated, nil
}

func claimable(c *models.ReviewCase) error {
	switch {
	case c.State == models.StateInReview:
		return fmt.Errorf("%w: %s is owned by another reviewer", models.ErrAlreadyClaimed, c.ID)
	case c.State != models.StatePendingReview:
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, c.State, models.StateInReview)
	case c.Owner != "":
		return fmt.Errorf("%w: %s", models.ErrAlreadyClaimed, c.ID)
	}
	return nil
}

// SubmitDecision records the owner's verdict, the feedback record and the
// terminal transition in one step, then publishes the outcome.
func (o *Orchestrator) SubmitDecision(ctx context.Context, caseID, reviewerID string, decision models.Decision, comment string) (*models.ReviewCase, error) {
	var to models.CaseState
	switch decision {
	case models.DecisionApprove:
		to = models.StateApproved
	case models.DecisionReject:
		to = models.StateRejected
	default:
		return nil, fmt.Errorf("%w: unknown decision %q", models.ErrInvalidInput, decision)
	}
	if reviewerID == "" {
		return nil, fmt.Errorf("%w: reviewer id is required", models.ErrInvalidInput)
	}
	c, err := o.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if err := decidable(c, reviewerID); err != nil {
		return nil, err
	}
	at := o.at(c)
	updated, err := o.store.Transition(ctx, Transition{
		CaseID:      caseID,
		From:        models.StateInReview,
		To:          to,
		Actor:       reviewerID,
		At:          at,
		ExpectOwner: reviewerID,
		Decision:    decision,
		Feedback: &models.ExpertFeedback{
			ReviewCaseID: caseID,
			ExpertID:     reviewerID,
			Decision:     decision,
			Comment:      comment,
			Timestamp:    at,
		},
	})
	if errors.Is(err, ErrConflict) {
		if current, gerr := o.store.GetCase(ctx, caseID); gerr == nil {
			if derr := decidable(current, reviewerID); derr != nil {
				return nil, derr
			}
		}
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidState, caseID)
	}
	if err != nil {
		return nil, err
	}
	o.changed(caseID, models.StateInReview, to, reviewerID)
	o.publish(ctx, updated, reviewerID)
	return updated, nil
}

func decidable(c *models.ReviewCase, reviewerID string) error {
	if c.Owner != "" && c.Owner != reviewerID {
		return fmt.Errorf("%w: %s is owned by another reviewer", models.ErrNotOwner, c.ID)
	}
	if c.State != models.StateInReview {
		return fmt.Errorf("%w: %s is %s", models.ErrInvalidState, c.ID, c.State)
	}
	if c.Owner != reviewerID {
		return fmt.Errorf("%w: %s", models.ErrNotOwner, c.ID)
	}
	return nil
}

// ExpireStale moves every open case created more than the review timeout
// before now to expired, with decision reject. It returns how many expired.
func (o *Orchestrator) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	stale, err := o.store.ListOpen(ctx, now.Add(-o.cfg.Timeout))
	if err != nil {
		return 0, fmt.Errorf("failed to list open cases: %w", err)
	}
	expired := 0
	for _, c := range stale {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		at := now
		if at.Before(c.UpdatedAt) {
			at = c.UpdatedAt
		}
		updated, err := o.store.Transition(ctx, Transition{
			CaseID:   c.ID,
			From:     c.State,
			To:       models.StateExpired,
			Actor:    models.ActorSystem,
			At:       at,
			Decision: models.DecisionReject,
		})
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return expired, fmt.Errorf("failed to expire case %s: %w", c.ID, err)
		}
		expired++
		o.changed(c.ID, c.State, models.StateExpired, models.ActorSystem)
		o.publish(ctx, updated, models.ActorSystem)
	}
	if expired > 0 {
		o.logger.Info("stale review cases expired", zap.Int("count", expired))
	}
	return expired, nil
}

func (o *Orchestrator) changed(caseID string, from, to models.CaseState, actor string) {
	o.logger.Debug("review transition",
		zap.String("case_id", caseID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor", actor))
	if o.onChange != nil {
		o.onChange(caseID, from, to, actor)
	}
}

func (o *Orchestrator) publish(ctx context.Context, c *models.ReviewCase, actor string) {
	if o.publisher == nil {
		return
	}
	outcome := models.ReviewOutcome{
		CaseID:     c.ID,
		Prompt:     c.Prompt,
		State:      c.State,
		Decision:   c.Decision,
		Actor:      actor,
		Confidence: c.Confidence.Score,
		At:         c.UpdatedAt,
	}
	if err := o.publisher.Publish(ctx, outcome); err != nil {
		o.logger.Error("failed to publish review outcome", zap.String("case_id", c.ID), zap.Error(err))
	}
}
