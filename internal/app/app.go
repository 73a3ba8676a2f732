// Package app assembles the kakunin services from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/kakunin/internal/config"
	"github.com/hyperjump/kakunin/internal/corpus"
	"github.com/hyperjump/kakunin/internal/embedding"
	"github.com/hyperjump/kakunin/internal/extract"
	"github.com/hyperjump/kakunin/internal/feedback"
	"github.com/hyperjump/kakunin/internal/generation"
	"github.com/hyperjump/kakunin/internal/guardrail"
	"github.com/hyperjump/kakunin/internal/indexer"
	"github.com/hyperjump/kakunin/internal/pipeline"
	"github.com/hyperjump/kakunin/internal/prompt"
	"github.com/hyperjump/kakunin/internal/retrieval"
	"github.com/hyperjump/kakunin/internal/review"
	"github.com/hyperjump/kakunin/internal/scoring"
	"github.com/hyperjump/kakunin/internal/server"
	"github.com/hyperjump/kakunin/internal/storage"
	"github.com/hyperjump/kakunin/internal/telemetry"
	"github.com/hyperjump/kakunin/internal/watcher"
	"go.uber.org/zap"
)

// App holds initialized services.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Recorder *telemetry.Recorder
	Store    storage.Store
	Embedder embedding.Embedder
	Library  *corpus.Library
	Indexer  *indexer.Indexer
	// Watcher is nil when no corpus directories are configured.
	Watcher  *watcher.Watcher
	Guard    *guardrail.Engine
	Prompts  *prompt.Registry
	Adapter  *generation.Adapter
	Reviews  *review.Orchestrator
	Sweeper  *review.Sweeper
	Events   feedback.EventLog
	Feedback *feedback.Loop
	Analyzer *pipeline.Analyzer

	stopLoop context.CancelFunc
	loopDone chan struct{}
}

// New builds every service. Nothing runs in the background until Start.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a = &App{Config: cfg, Logger: logger, Recorder: telemetry.New(logger)}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	if a.Store, err = storage.Open(ctx, cfg.Storage); err != nil {
		return a, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if a.Embedder, err = newEmbedder(cfg.Embedding, logger); err != nil {
		return a, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	chunker := indexer.NewChunker(cfg.Corpus.ChunkSize, cfg.Corpus.ChunkOverlap)
	a.Library = corpus.NewLibrary(a.Store, corpus.NewBuilder(a.Embedder, chunker),
		corpus.WithLogger(logger),
		corpus.WithDebounce(cfg.Corpus.RebuildDebounce))
	a.Indexer = indexer.NewIndexer(a.Library, extract.NewExtractor(), indexer.WithLogger(logger))
	if len(cfg.Corpus.Directories) > 0 {
		exts := cfg.Corpus.Extensions
		a.Watcher = watcher.New(cfg.Corpus.Directories, exts, cfg.Corpus.RecursiveOrDefault(),
			watcher.HandlerFuncs{
				Changed: func(ctx context.Context, path string) error { return a.Indexer.IndexFile(ctx, path, exts) },
				Removed: a.Indexer.DeleteFile,
			},
			watcher.WithLogger(logger))
	}

	if a.Guard, err = guardrail.New(cfg.Guardrail.AllowPatterns); err != nil {
		return a, err
	}

	gen, err := newGenerator(cfg.Generation)
	if err != nil {
		return a, err
	}
	a.Adapter = generation.NewAdapter(gen, generation.AdapterConfig{
		Timeout:      cfg.Generation.Timeout,
		RetryBackoff: cfg.Generation.RetryBackoff,
		Temperature:  cfg.Generation.Temperature,
		MaxTokens:    cfg.Generation.MaxTokens,
		RateLimit:    cfg.Generation.RateLimit,
		RateBurst:    cfg.Generation.RateBurst,
	}, generation.WithLogger(logger), generation.WithObserver(a.Recorder.Generation))

	a.Prompts = prompt.NewRegistry(prompt.WithRunner(a.Adapter), prompt.WithStore(a.Store), prompt.WithLogger(logger))
	if err = a.Prompts.Load(ctx); err != nil {
		return a, err
	}
	catalog := prompt.DefaultCatalog()
	if cfg.Prompts.Path != "" {
		if catalog, err = prompt.LoadCatalog(cfg.Prompts.Path); err != nil {
			return a, err
		}
	}
	if err = a.Prompts.Seed(ctx, catalog); err != nil {
		return a, fmt.Errorf("failed to seed prompts: %w", err)
	}

	switch cfg.Feedback.EventLog {
	case "redis":
		var redisLog *feedback.RedisLog
		if redisLog, err = feedback.DialRedis(ctx, cfg.Feedback.RedisAddr, cfg.Feedback.Stream); err != nil {
			return a, err
		}
		a.Events = redisLog
	default:
		a.Events = feedback.NewMemoryLog()
	}
	a.Feedback = feedback.NewLoop(a.Events, feedback.Config{
		WindowSize:       cfg.Feedback.WindowSize,
		MinSamples:       cfg.Feedback.MinSamples,
		RejectionCeiling: cfg.Feedback.RejectionCeiling,
		TargetPrecision:  cfg.Feedback.TargetPrecision,
		PollInterval:     cfg.Feedback.PollInterval,
	}, feedback.WithLogger(logger), feedback.WithFlagHook(func(feedback.Flag) {
		a.Recorder.FlaggedVersions(len(a.Feedback.Flags()))
	}))

	a.Reviews = review.NewOrchestrator(a.Store, review.Config{
		Threshold: cfg.Review.Threshold,
		Timeout:   cfg.Review.Timeout,
	}, review.WithPublisher(a.Events),
		review.WithTransitionHook(a.Recorder.Transition),
		review.WithLogger(logger))
	if a.Sweeper, err = review.NewSweeper(a.Reviews, cfg.Review.SweepInterval, logger); err != nil {
		return a, err
	}

	a.Analyzer = pipeline.New(pipeline.Deps{
		Retriever: retrieval.New(func() corpus.Provider { return a.Library.Snapshot() }, a.Embedder, retrieval.Config{
			CandidateK:   cfg.Retrieval.CandidateK,
			MinRelevance: cfg.Retrieval.MinRelevance,
			RetryBackoff: cfg.Retrieval.RetryBackoff,
		}, retrieval.WithLogger(logger)),
		Guard:     a.Guard,
		Prompts:   a.Prompts,
		Generator: a.Adapter,
		Grounding: scoring.NewGroundingScorer(scoring.GroundingConfig{
			SupportRatio:      cfg.Scoring.SupportRatio,
			SemanticThreshold: cfg.Scoring.SemanticThreshold,
		}, scoring.WithPlaceholderChecker(a.Guard),
			scoring.WithEmbedder(a.Embedder),
			scoring.WithLogger(logger)),
		Decider: a.Reviews,
	}, pipeline.Config{
		TopK:              cfg.Retrieval.TopK,
		FusionWeights:     cfg.Retrieval.Weights,
		ConfidenceWeights: cfg.Scoring.Weights,
		TemplateID:        cfg.Prompts.TemplateID,
	}, pipeline.WithLogger(logger), pipeline.WithRecorder(a.Recorder))
	return a, nil
}

func newEmbedder(cfg config.EmbeddingConfig, logger *zap.Logger) (embedding.Embedder, error) {
	emb, err := embedding.New(cfg)
	if err == nil || cfg.Provider != "onnx" {
		return emb, err
	}
	logger.Warn("onnx embedder unavailable, falling back to mock",
		zap.String("model_path", cfg.ModelPath),
		zap.Error(err))
	cfg.Provider = "mock"
	return embedding.New(cfg)
}

func newGenerator(cfg config.GenerationConfig) (generation.Generator, error) {
	switch cfg.Provider {
	case "ollama":
		return generation.NewOllama(cfg.BaseURL, cfg.Model, cfg.Timeout), nil
	case "", "mock":
		return generation.NewMock(cfg.MockCertainty), nil
	}
	return nil, fmt.Errorf("unknown generation provider: %s", cfg.Provider)
}

// ServerDeps returns the services the HTTP API routes to.
func (a *App) ServerDeps() server.Deps {
	return server.Deps{
		Analyzer: a.Analyzer,
		Reviews:  a.Reviews,
		Library:  a.Library,
		Indexer:  a.Indexer,
		Prompts:  a.Prompts,
		Feedback: a.Feedback,
		Recorder: a.Recorder,
		Store:    a.Store,
	}
}

// Start indexes the corpus directories, builds the first snapshot and starts
// the watcher, the expiry sweeper and the feedback consumer.
func (a *App) Start(ctx context.Context) error {
	if a.Watcher != nil {
		a.Watcher.Sync(ctx)
	}
	snap, err := a.Library.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("failed to build corpus snapshot: %w", err)
	}
	a.Logger.Info("corpus ready",
		zap.Int("documents", snap.DocumentCount()),
		zap.Int("chunks", snap.ChunkCount()))

	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
	}
	a.Sweeper.Start()

	loopCtx, cancel := context.WithCancel(context.Background())
	a.stopLoop = cancel
	a.loopDone = make(chan struct{})
	go func() {
		defer close(a.loopDone)
		_ = a.Feedback.Run(loopCtx)
	}()
	return nil
}

// Close stops background work, then closes the stores. The cron scheduler
// stops first, then the feedback consumer and the watcher.
func (a *App) Close() {
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}
	if a.stopLoop != nil {
		a.stopLoop()
		select {
		case <-a.loopDone:
		case <-time.After(5 * time.Second):
			a.Logger.Warn("feedback consumer did not stop in time")
		}
		a.stopLoop = nil
	}
	if a.Watcher != nil {
		a.Watcher.Stop()
	}
	if a.Library != nil {
		a.Library.Close()
	}
	if a.Events != nil {
		_ = a.Events.Close()
	}
	if a.Embedder != nil {
		_ = a.Embedder.Close()
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
}
