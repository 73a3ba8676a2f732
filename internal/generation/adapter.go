package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/kakunin/internal/models"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AdapterConfig bounds each generation call.
type AdapterConfig struct {
	Timeout      time.Duration
	RetryBackoff time.Duration
	Temperature  float64
	MaxTokens    int
	// RateLimit is calls per second; zero disables throttling.
	RateLimit float64
	RateBurst int
}

// Adapter wraps a Generator with a per-attempt timeout, one retry, client-side
// throttling and prompt version stamping.
type Adapter struct {
	gen     Generator
	cfg     AdapterConfig
	limiter *rate.Limiter
	logger  *zap.Logger
	observe func(time.Duration, error)
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) AdapterOption {
	return func(a *Adapter) { a.logger = l }
}

// WithObserver registers fn to receive the latency and outcome of every call.
func WithObserver(fn func(time.Duration, error)) AdapterOption {
	return func(a *Adapter) { a.observe = fn }
}

// NewAdapter returns an adapter around gen.
func NewAdapter(gen Generator, cfg AdapterConfig, opts ...AdapterOption) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	a := &Adapter{gen: gen, cfg: cfg, logger: zap.NewNop()}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Generate runs prompt through the backend and stamps ref on the result.
// Unavailability and timeouts are retried once. Cancellation of ctx is
// returned as is.
func (a *Adapter) Generate(ctx context.Context, prompt string, ref models.PromptRef) (models.GenerationResult, error) {
	start := time.Now()
	result, err := a.generate(ctx, prompt)
	if a.observe != nil {
		a.observe(time.Since(start), err)
	}
	if err != nil {
		return models.GenerationResult{}, err
	}
	result.PromptVersionUsed = ref
	return result, nil
}

func (a *Adapter) generate(ctx context.Context, prompt string) (models.GenerationResult, error) {
	var result models.GenerationResult
	attempt := 0
	backoff := retry.WithMaxRetries(1, retry.NewConstant(a.cfg.RetryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return ctxErr(ctx, err)
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		out, err := a.gen.Generate(callCtx, prompt, Options{Temperature: a.cfg.Temperature, MaxTokens: a.cfg.MaxTokens})
		cancel()
		if err == nil {
			result = out
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = classify(callCtx, err)
		a.logger.Warn("generation attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		if errors.Is(err, models.ErrGenerationUnavailable) || errors.Is(err, models.ErrGenerationTimeout) {
			return retry.RetryableError(err)
		}
		return err
	})
	return result, err
}

// classify maps backend errors onto the generation sentinels. A call whose own
// deadline fired is a timeout even when the backend reported something else.
func classify(callCtx context.Context, err error) error {
	switch {
	case errors.Is(err, models.ErrGenerationUnavailable), errors.Is(err, models.ErrGenerationTimeout):
		return err
	case errors.Is(callCtx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", models.ErrGenerationTimeout, err)
	default:
		return fmt.Errorf("%w: %v", models.ErrGenerationUnavailable, err)
	}
}

func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: rate limiter: %v", models.ErrGenerationUnavailable, err)
}

// Run implements prompt.Runner so canonical cases run through the backend.
func (a *Adapter) Run(ctx context.Context, prompt string) (string, error) {
	result, err := a.generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}
