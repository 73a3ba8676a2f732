package feedback

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kakunin/internal/models"
)

const (
	defaultWindowSize       = 50
	defaultMinSamples       = 10
	defaultRejectionCeiling = 0.3
	defaultTargetPrecision  = 0.95
	defaultPollInterval     = 2 * time.Second
	readBatch               = 100
	// advisorSamples bounds the decisions kept for threshold advice.
	advisorSamples = 1000
)

// Config holds loop settings. Zero fields take defaults.
type Config struct {
	WindowSize       int
	MinSamples       int
	RejectionCeiling float64
	TargetPrecision  float64
	PollInterval     time.Duration
}

// VersionStats are the running totals of one prompt version.
type VersionStats struct {
	Prompt    models.PromptRef `json:"prompt"`
	Approved  int              `json:"approved"`
	Rejected  int              `json:"rejected"`
	Expired   int              `json:"expired"`
	Window    int              `json:"window"`
	WindowRej int              `json:"window_rejections"`
	// RejectionRate is computed over the rolling window.
	RejectionRate float64    `json:"rejection_rate"`
	ApprovalRate  float64    `json:"approval_rate"`
	Flagged       bool       `json:"flagged"`
	FlaggedAt     *time.Time `json:"flagged_at,omitempty"`
}

// Flag marks a prompt version that needs a fresh regression run.
type Flag struct {
	Prompt        models.PromptRef `json:"prompt"`
	RejectionRate float64          `json:"rejection_rate"`
	Samples       int              `json:"samples"`
	At            time.Time        `json:"at"`
}

// Advice is the threshold advisor's output. It is never applied automatically.
type Advice struct {
	// Threshold is the lowest confidence at which expert approval precision
	// stays at or above Target. Valid only when OK is set.
	Threshold float64 `json:"threshold"`
	Precision float64 `json:"precision"`
	Target    float64 `json:"target"`
	Samples   int     `json:"samples"`
	OK        bool    `json:"ok"`
}

type versionState struct {
	stats  VersionStats
	window []bool // true = rejected, oldest first
}

type scored struct {
	confidence float64
	approved   bool
}

// Loop folds review outcomes into per-version statistics.
type Loop struct {
	log    EventLog
	cfg    Config
	logger *zap.Logger
	onFlag func(Flag)

	mu       sync.RWMutex
	cursor   string
	versions map[models.PromptRef]*versionState
	flags    []Flag
	decided  []scored
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(lp *Loop) { lp.logger = l }
}

// WithFlagHook is called once for every newly flagged version.
func WithFlagHook(fn func(Flag)) Option {
	return func(lp *Loop) { lp.onFlag = fn }
}

// NewLoop creates a loop reading from log.
func NewLoop(log EventLog, cfg Config, opts ...Option) *Loop {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = defaultWindowSize
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = defaultMinSamples
	}
	if cfg.MinSamples > cfg.WindowSize {
		cfg.MinSamples = cfg.WindowSize
	}
	if cfg.RejectionCeiling <= 0 {
		cfg.RejectionCeiling = defaultRejectionCeiling
	}
	if cfg.TargetPrecision <= 0 {
		cfg.TargetPrecision = defaultTargetPrecision
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	l := &Loop{
		log:      log,
		cfg:      cfg,
		logger:   zap.NewNop(),
		versions: make(map[models.PromptRef]*versionState),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run consumes the log until ctx is done. Read errors are logged and retried
// after the poll interval.
func (l *Loop) Run(ctx context.Context) error {
	for {
		_, err := l.Poll(ctx, l.cfg.PollInterval)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			l.logger.Warn("feedback read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(l.cfg.PollInterval):
			}
		}
	}
}

// Poll reads one batch, waiting up to block for new events, and applies it.
// Undecodable events are logged and skipped. It returns the number of events
// applied.
func (l *Loop) Poll(ctx context.Context, block time.Duration) (int, error) {
	l.mu.RLock()
	cursor := l.cursor
	l.mu.RUnlock()

	events, err := l.log.Read(ctx, cursor, readBatch, block)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, ev := range events {
		if ev.Err != nil {
			l.logger.Warn("skipping undecodable feedback event", zap.String("event_id", ev.ID), zap.Error(ev.Err))
		} else {
			l.Apply(ev.Outcome)
			applied++
		}
		l.mu.Lock()
		l.cursor = ev.ID
		l.mu.Unlock()
	}
	return applied, nil
}

// Apply folds one outcome into the statistics. Only expert approvals and
// rejections move the rolling window; expiries are counted on their own.
func (l *Loop) Apply(o models.ReviewOutcome) {
	l.mu.Lock()
	vs, ok := l.versions[o.Prompt]
	if !ok {
		vs = &versionState{stats: VersionStats{Prompt: o.Prompt}}
		l.versions[o.Prompt] = vs
	}

	var flag *Flag
	switch o.State {
	case models.StateExpired:
		vs.stats.Expired++
	case models.StateApproved, models.StateRejected:
		rejected := o.State == models.StateRejected
		if rejected {
			vs.stats.Rejected++
		} else {
			vs.stats.Approved++
		}
		vs.window = append(vs.window, rejected)
		if len(vs.window) > l.cfg.WindowSize {
			vs.window = vs.window[len(vs.window)-l.cfg.WindowSize:]
		}
		l.decided = append(l.decided, scored{confidence: o.Confidence, approved: !rejected})
		if len(l.decided) > advisorSamples {
			l.decided = l.decided[len(l.decided)-advisorSamples:]
		}
		vs.refresh()
		if !vs.stats.Flagged && len(vs.window) >= l.cfg.MinSamples && vs.stats.RejectionRate > l.cfg.RejectionCeiling {
			at := o.At
			if at.IsZero() {
				at = time.Now()
			}
			vs.stats.Flagged = true
			vs.stats.FlaggedAt = &at
			f := Flag{Prompt: o.Prompt, RejectionRate: vs.stats.RejectionRate, Samples: len(vs.window), At: at}
			l.flags = append(l.flags, f)
			flag = &f
		}
	default:
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	if flag != nil {
		l.logger.Warn("prompt version flagged for regression",
			zap.String("event", "feedback_flag"),
			zap.String("prompt", flag.Prompt.String()),
			zap.Float64("rejection_rate", flag.RejectionRate),
			zap.Int("samples", flag.Samples))
		if l.onFlag != nil {
			l.onFlag(*flag)
		}
	}
}

func (vs *versionState) refresh() {
	rejections := 0
	for _, r := range vs.window {
		if r {
			rejections++
		}
	}
	vs.stats.Window = len(vs.window)
	vs.stats.WindowRej = rejections
	if len(vs.window) == 0 {
		vs.stats.RejectionRate, vs.stats.ApprovalRate = 0, 0
		return
	}
	vs.stats.RejectionRate = float64(rejections) / float64(len(vs.window))
	vs.stats.ApprovalRate = 1 - vs.stats.RejectionRate
}

// Stats returns the statistics of every version seen, ordered by template and version.
func (l *Loop) Stats() []VersionStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]VersionStats, 0, len(l.versions))
	for _, vs := range l.versions {
		s := vs.stats
		if s.FlaggedAt != nil {
			at := *s.FlaggedAt
			s.FlaggedAt = &at
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Prompt.TemplateID != out[j].Prompt.TemplateID {
			return out[i].Prompt.TemplateID < out[j].Prompt.TemplateID
		}
		return out[i].Prompt.Version < out[j].Prompt.Version
	})
	return out
}

// Flags returns the flags raised so far, oldest first.
func (l *Loop) Flags() []Flag {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Flag(nil), l.flags...)
}

// Flagged reports whether ref has been flagged.
func (l *Loop) Flagged(ref models.PromptRef) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	vs, ok := l.versions[ref]
	return ok && vs.stats.Flagged
}

// Advise returns the lowest confidence at which approval precision of the
// recorded expert decisions is at least the target.
func (l *Loop) Advise() Advice {
	l.mu.RLock()
	decided := append([]scored(nil), l.decided...)
	l.mu.RUnlock()

	advice := Advice{Target: l.cfg.TargetPrecision, Samples: len(decided)}
	if len(decided) < l.cfg.MinSamples {
		return advice
	}
	sort.Slice(decided, func(i, j int) bool { return decided[i].confidence > decided[j].confidence })

	approved := 0
	for i, d := range decided {
		if d.approved {
			approved++
		}
		// Ties are decided together.
		if i+1 < len(decided) && decided[i+1].confidence == d.confidence {
			continue
		}
		precision := float64(approved) / float64(i+1)
		if precision >= l.cfg.TargetPrecision {
			advice.Threshold = d.confidence
			advice.Precision = precision
			advice.OK = true
		}
	}
	return advice
}
