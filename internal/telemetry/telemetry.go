// Package telemetry records audit events and Prometheus metrics for the
// analyze pipeline and the review workflow.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hyperjump/kakunin/internal/models"
)

const namespace = "kakunin"

// Recorder writes structured events to a zap logger and updates the
// collectors of its own registry. The recording methods are no-ops on a nil
// *Recorder.
type Recorder struct {
	logger   *zap.Logger
	registry *prometheus.Registry

	retrievalLatency  prometheus.Histogram
	retrievalDegraded prometheus.Counter
	generationLatency *prometheus.HistogramVec
	confidence        prometheus.Histogram
	transitions       *prometheus.CounterVec
	guardrailFindings *prometheus.CounterVec
	flaggedVersions   prometheus.Gauge
}

// New creates a recorder with a fresh registry. Go runtime and process
// collectors are registered alongside.
func New(logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		logger:   logger,
		registry: prometheus.NewRegistry(),
		retrievalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Hybrid retrieval latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		retrievalDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_degraded_total",
			Help:      "Retrievals that failed after retry and continued without evidence.",
		}),
		generationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Generation call latency by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"outcome"}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "answer_confidence",
			Help:      "Aggregated confidence of generated answers.",
			Buckets:   prometheus.LinearBuckets(0.05, 0.05, 20),
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "review_transitions_total",
			Help:      "Review case state transitions.",
		}, []string{"from", "to"}),
		guardrailFindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guardrail_findings_total",
			Help:      "Sensitive data findings by direction and category.",
		}, []string{"direction", "category"}),
		flaggedVersions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "prompt_versions_flagged",
			Help:      "Prompt versions flagged for regression by expert feedback.",
		}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.retrievalLatency,
		r.retrievalDegraded,
		r.generationLatency,
		r.confidence,
		r.transitions,
		r.guardrailFindings,
		r.flaggedVersions,
	)
	return r
}

// Registry exposes the registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Retrieval records one retrieval.
func (r *Recorder) Retrieval(d time.Duration, chunks int, err error) {
	if r == nil {
		return
	}
	r.retrievalLatency.Observe(d.Seconds())
	fields := []zap.Field{
		zap.String("event", "retrieval"),
		zap.Duration("duration", d),
		zap.Int("chunks", chunks),
	}
	if err != nil {
		r.retrievalDegraded.Inc()
		r.logger.Warn("retrieval degraded", append(fields, zap.Error(err))...)
		return
	}
	r.logger.Info("retrieval", fields...)
}

// Generation records one generation attempt sequence.
func (r *Recorder) Generation(d time.Duration, err error) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.generationLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

// Confidence records the aggregated score of an answer.
func (r *Recorder) Confidence(prompt models.PromptRef, score models.ConfidenceScore, reasons []string) {
	if r == nil {
		return
	}
	r.confidence.Observe(score.Score)
	r.logger.Info("confidence",
		zap.String("event", "confidence"),
		zap.String("prompt", prompt.String()),
		zap.Float64("score", score.Score),
		zap.Float64("grounding", score.Breakdown.Grounding),
		zap.Float64("coverage", score.Breakdown.Coverage),
		zap.Float64("certainty", score.Breakdown.Certainty),
		zap.Strings("imputed", score.Imputed),
		zap.Strings("escalation_reasons", reasons))
}

// Transition records a review state change.
func (r *Recorder) Transition(caseID string, from, to models.CaseState, actor string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(string(from), string(to)).Inc()
	r.logger.Info("transition",
		zap.String("event", "transition"),
		zap.String("case_id", caseID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor", actor))
}

// Guardrail records the categories found in one scan. Empty scans are not logged.
func (r *Recorder) Guardrail(direction string, categories []string) {
	if r == nil || len(categories) == 0 {
		return
	}
	for _, c := range categories {
		r.guardrailFindings.WithLabelValues(direction, c).Inc()
	}
	r.logger.Info("guardrail",
		zap.String("event", "guardrail"),
		zap.String("direction", direction),
		zap.Strings("categories", categories))
}

// FlaggedVersions sets the number of flagged prompt versions.
func (r *Recorder) FlaggedVersions(n int) {
	if r == nil {
		return
	}
	r.flaggedVersions.Set(float64(n))
}
