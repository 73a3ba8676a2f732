package review

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper runs ExpireStale on a fixed schedule.
type Sweeper struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// NewSweeper schedules o.ExpireStale every interval.
func NewSweeper(o *Orchestrator, interval time.Duration, logger *zap.Logger) (*Sweeper, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", interval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc("@every "+interval.String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		if _, err := o.ExpireStale(ctx, o.now()); err != nil {
			logger.Error("expiry sweep failed", zap.Error(err))
		}
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule expiry sweep: %w", err)
	}
	return &Sweeper{cron: c, logger: logger}, nil
}

// Start begins running the schedule in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("review expiry sweeper started")
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
