// Package pipeline answers policy questions end to end: guardrails, hybrid
// retrieval, prompt rendering, generation, confidence scoring and the review
// decision.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kakunin/internal/guardrail"
	"github.com/hyperjump/kakunin/internal/models"
	"github.com/hyperjump/kakunin/internal/prompt"
	"github.com/hyperjump/kakunin/internal/retrieval"
	"github.com/hyperjump/kakunin/internal/review"
	"github.com/hyperjump/kakunin/internal/scoring"
	"github.com/hyperjump/kakunin/internal/telemetry"
)

// Retriever finds evidence for a question.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, weights models.FusionWeights, opts retrieval.Options) (*models.RetrievalResult, error)
}

// Guard redacts sensitive data.
type Guard interface {
	ScanAndRedact(text string, direction guardrail.Direction) (string, []guardrail.Finding, error)
}

// Renderer renders the active version of a prompt template.
type Renderer interface {
	Render(templateID string, vars map[string]interface{}) (string, models.PromptRef, error)
}

// Generator produces a draft answer and stamps the prompt version on it.
type Generator interface {
	Generate(ctx context.Context, prompt string, ref models.PromptRef) (models.GenerationResult, error)
}

// Grounder splits an answer into claims checked against evidence.
type Grounder interface {
	Claims(ctx context.Context, answer string, chunks []string) []scoring.Claim
}

// Decider routes a scored draft to auto-approval or review.
type Decider interface {
	Decide(ctx context.Context, d review.Draft) (*models.ReviewCase, error)
}

// Deps are the collaborators of an Analyzer. All are required.
type Deps struct {
	Retriever Retriever
	Guard     Guard
	Prompts   Renderer
	Generator Generator
	Grounding Grounder
	Decider   Decider
}

// Config holds per-query settings.
type Config struct {
	TopK              int
	FusionWeights     models.FusionWeights
	ConfidenceWeights models.ConfidenceWeights
	// TemplateID defaults to policy_qa.
	TemplateID string
}

// Analyzer runs the analyze pipeline. It keeps no per-query state.
type Analyzer struct {
	deps     Deps
	cfg      Config
	recorder *telemetry.Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// WithRecorder sets the telemetry recorder.
func WithRecorder(r *telemetry.Recorder) Option {
	return func(a *Analyzer) { a.recorder = r }
}

// New returns an analyzer.
func New(deps Deps, cfg Config, opts ...Option) *Analyzer {
	if cfg.TemplateID == "" {
		cfg.TemplateID = prompt.PolicyQATemplateID
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	a := &Analyzer{deps: deps, cfg: cfg, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze answers req. Validation failures wrap ErrInvalidInput; generation
// failures after the retry wrap ErrGenerationUnavailable or
// ErrGenerationTimeout and create no review case. A retrieval failure does not
// fail the call: the answer is produced without evidence and escalated.
func (a *Analyzer) Analyze(ctx context.Context, req models.AnalyzeRequest) (*models.AnalyzeResponse, error) {
	start := a.now()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	query, inFindings, err := a.deps.Guard.ScanAndRedact(req.Query, guardrail.DirectionInput)
	if err != nil {
		return nil, err
	}
	a.recorder.Guardrail(string(guardrail.DirectionInput), categories(inFindings))

	var reasons []string
	retrieveStart := time.Now()
	result, err := a.deps.Retriever.Retrieve(ctx, query, a.cfg.TopK, a.cfg.FusionWeights, retrieval.Options{DocumentID: req.DocumentID})
	switch {
	case err == nil:
		a.recorder.Retrieval(time.Since(retrieveStart), len(result.Chunks), nil)
	case errors.Is(err, models.ErrRetrieval):
		a.recorder.Retrieval(time.Since(retrieveStart), 0, err)
		reasons = append(reasons, models.ReasonRetrievalDegraded)
		result = &models.RetrievalResult{Query: query}
	default:
		return nil, err
	}
	chunks := result.Texts()

	text, ref, err := a.deps.Prompts.Render(a.cfg.TemplateID, map[string]interface{}{
		"question":    query,
		"context":     formatContext(result.Chunks),
		"document_id": req.DocumentID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render prompt: %w", err)
	}

	gen, err := a.deps.Generator.Generate(ctx, text, ref)
	if err != nil {
		a.logger.Warn("generation failed", zap.String("prompt", ref.String()), zap.Error(err))
		return nil, err
	}

	answer := strings.TrimSpace(gen.Text)
	var outFindings []guardrail.Finding
	if answer != "" {
		answer, outFindings, err = a.deps.Guard.ScanAndRedact(answer, guardrail.DirectionOutput)
		if err != nil {
			return nil, err
		}
		a.recorder.Guardrail(string(guardrail.DirectionOutput), categories(outFindings))
	}

	var grounding, coverage *float64
	var claims []scoring.Claim
	if len(chunks) == 0 {
		if len(reasons) == 0 {
			reasons = append(reasons, models.ReasonNoEvidence)
		}
	} else {
		claims = a.deps.Grounding.Claims(ctx, answer, chunks)
		if len(claims) == 0 {
			reasons = append(reasons, models.ReasonGroundingMissing)
		} else {
			g := supportedShare(claims)
			grounding = &g
		}
		c := scoring.Coverage(query, chunks)
		coverage = &c
	}
	if gen.RawCertainty == nil {
		reasons = append(reasons, models.ReasonCertaintyMissing)
	}

	score, err := scoring.Aggregate(grounding, coverage, gen.RawCertainty, a.cfg.ConfidenceWeights)
	if err != nil {
		return nil, err
	}
	citations := cite(result.Chunks, claims)
	a.recorder.Confidence(ref, score, reasons)

	citationIDs := make([]string, len(citations))
	for i, c := range citations {
		citationIDs[i] = c.ChunkID
	}
	rc, err := a.deps.Decider.Decide(ctx, review.Draft{
		Query:      query,
		DocumentID: req.DocumentID,
		Answer:     answer,
		Citations:  citationIDs,
		Confidence: score,
		Prompt:     ref,
		Reasons:    reasons,
	})
	if err != nil {
		return nil, err
	}

	resp := &models.AnalyzeResponse{
		Answer:             answer,
		Confidence:         score.Score,
		Breakdown:          score.Breakdown,
		State:              rc.State,
		Prompt:             ref,
		Redacted:           guardrail.Violation(inFindings) || guardrail.Violation(outFindings),
		GuardrailViolation: guardrail.Violation(outFindings),
		EscalationReasons:  rc.EscalationReasons,
		Citations:          citations,
		QueryTime:          a.now().Sub(start).Milliseconds(),
	}
	if rc.ID != "" {
		id := rc.ID
		resp.CaseID = &id
	}
	a.logger.Debug("analyze complete",
		zap.String("state", string(rc.State)),
		zap.Float64("confidence", score.Score),
		zap.Int("chunks", len(chunks)),
		zap.Int64("took_ms", resp.QueryTime))
	return resp, nil
}

// formatContext numbers chunks in rank order as "[n] text".
func formatContext(chunks []*models.ScoredChunk) string {
	if len(chunks) == 0 {
		return "(no policy excerpts found)"
	}
	var b strings.Builder
	for i, c := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("[" + strconv.Itoa(i+1) + "] ")
		b.WriteString(c.Text)
	}
	return b.String()
}

func supportedShare(claims []scoring.Claim) float64 {
	supported := 0
	for _, c := range claims {
		if c.Supported {
			supported++
		}
	}
	return float64(supported) / float64(len(claims))
}

// cite returns the chunks that support at least one claim, in rank order.
func cite(chunks []*models.ScoredChunk, claims []scoring.Claim) []models.Citation {
	used := make(map[int]bool)
	for _, c := range claims {
		if c.Supported && c.ChunkIndex >= 0 {
			used[c.ChunkIndex] = true
		}
	}
	var out []models.Citation
	for i, c := range chunks {
		if used[i] {
			out = append(out, models.Citation{ChunkID: c.ChunkID, DocumentID: c.DocumentID, Score: c.FusedScore})
		}
	}
	return out
}

func categories(findings []guardrail.Finding) []string {
	if len(findings) == 0 {
		return nil
	}
	out := make([]string, len(findings))
	for i, f := range findings {
		out[i] = string(f.Category)
	}
	return out
}
