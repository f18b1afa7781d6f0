// Package metrics tracks operational metrics of the analysis pipeline
// with both internal counters and Prometheus metrics.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Prometheus metric labels
const (
	labelRunType = "run_type"
	labelAction  = "action"
	labelStage   = "stage"
)

// Finding actions recorded by RecordFindingAction.
const (
	FindingCreated      = "created"
	FindingRecurred     = "recurred"
	FindingAutoResolved = "auto_resolved"
	FindingDropped      = "dropped"
)

// Metrics tracks pipeline metrics with internal atomic counters for the
// stats endpoint and Prometheus collectors for scraping.
type Metrics struct {
	eventsScored    atomic.Uint64
	eventsFromCache atomic.Uint64
	eventsSuppress  atomic.Uint64
	llmRequests     atomic.Uint64
	llmFailures     atomic.Uint64
	tokensIn        atomic.Uint64
	tokensOut       atomic.Uint64
	pipelineTicks   atomic.Uint64
	deferredBatches atomic.Uint64

	findingsMu sync.RWMutex
	findings   map[string]uint64

	logger *zap.Logger

	promEventsScored    prometheus.Counter
	promEventsFromCache prometheus.Counter
	promEventsSuppress  prometheus.Counter
	promLLMRequests     *prometheus.CounterVec
	promLLMFailures     *prometheus.CounterVec
	promTokens          *prometheus.CounterVec
	promFindings        *prometheus.CounterVec
	promTickDuration    *prometheus.HistogramVec
	promDeferred        *prometheus.CounterVec
	promConcurrency     prometheus.Gauge
}

// New creates a metrics tracker registered on the default registry.
func New(logger *zap.Logger) *Metrics {
	return &Metrics{
		findings: make(map[string]uint64),
		logger:   logger,

		promEventsScored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "logwarden",
			Name:      "events_scored_total",
			Help:      "Total number of events that received a score vector",
		}),
		promEventsFromCache: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "logwarden",
			Name:      "events_scored_from_cache_total",
			Help:      "Total number of events scored from the template cache without an LLM call",
		}),
		promEventsSuppress: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "logwarden",
			Name:      "events_suppressed_total",
			Help:      "Total number of events zeroed by normal-behavior templates",
		}),
		promLLMRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logwarden",
			Name:      "llm_requests_total",
			Help:      "Total number of LLM calls, labeled by run type (scoring, meta, re_evaluate)",
		}, []string{labelRunType}),
		promLLMFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logwarden",
			Name:      "llm_failures_total",
			Help:      "Total number of failed LLM calls after retries, labeled by run type",
		}, []string{labelRunType}),
		promTokens: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logwarden",
			Name:      "llm_tokens_total",
			Help:      "Total LLM tokens, labeled by direction (input, output)",
		}, []string{"direction"}),
		promFindings: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logwarden",
			Name:      "findings_total",
			Help:      "Finding engine outcomes, labeled by action (created, recurred, auto_resolved, dropped)",
		}, []string{labelAction}),
		promTickDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "logwarden",
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds, labeled by stage (scoring, meta, maintenance)",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 15),
		}, []string{labelStage}),
		promDeferred: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logwarden",
			Name:      "deferred_total",
			Help:      "Pipeline work deferred to the next tick after transient failure, labeled by stage",
		}, []string{labelStage}),
		promConcurrency: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "logwarden",
			Name:      "pipeline_concurrency",
			Help:      "Current per-tick system concurrency after backpressure adjustment",
		}),
	}
}

// RecordScored records events that received scores, split by source.
func (m *Metrics) RecordScored(fromLLM, fromCache int) {
	m.eventsScored.Add(uint64(fromLLM + fromCache))
	m.eventsFromCache.Add(uint64(fromCache))
	m.promEventsScored.Add(float64(fromLLM + fromCache))
	m.promEventsFromCache.Add(float64(fromCache))
}

// RecordSuppressed records events zeroed by the suppressor.
func (m *Metrics) RecordSuppressed(n int) {
	m.eventsSuppress.Add(uint64(n))
	m.promEventsSuppress.Add(float64(n))
}

// RecordLLMCall records one LLM call and its token usage.
func (m *Metrics) RecordLLMCall(runType string, success bool, tokensIn, tokensOut int) {
	m.llmRequests.Add(1)
	m.promLLMRequests.WithLabelValues(runType).Inc()
	if !success {
		m.llmFailures.Add(1)
		m.promLLMFailures.WithLabelValues(runType).Inc()
	}
	m.tokensIn.Add(uint64(tokensIn))
	m.tokensOut.Add(uint64(tokensOut))
	m.promTokens.WithLabelValues("input").Add(float64(tokensIn))
	m.promTokens.WithLabelValues("output").Add(float64(tokensOut))
}

// RecordFindingAction records a finding engine outcome.
func (m *Metrics) RecordFindingAction(action string, n int) {
	if n <= 0 {
		return
	}
	m.findingsMu.Lock()
	m.findings[action] += uint64(n)
	m.findingsMu.Unlock()
	m.promFindings.WithLabelValues(action).Add(float64(n))
}

// RecordStageDuration records how long one pipeline stage took.
func (m *Metrics) RecordStageDuration(stage string, d time.Duration) {
	if stage == "scoring" || stage == "meta" {
		m.pipelineTicks.Add(1)
	}
	m.promTickDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordDeferred records work pushed to the next tick.
func (m *Metrics) RecordDeferred(stage string) {
	m.deferredBatches.Add(1)
	m.promDeferred.WithLabelValues(stage).Inc()
}

// SetConcurrency reports the current backpressure-adjusted concurrency.
func (m *Metrics) SetConcurrency(n int) {
	m.promConcurrency.Set(float64(n))
}

// Stats is a snapshot of the internal counters.
type Stats struct {
	EventsScored    uint64            `json:"events_scored"`
	EventsFromCache uint64            `json:"events_from_cache"`
	EventsSuppress  uint64            `json:"events_suppressed"`
	LLMRequests     uint64            `json:"llm_requests"`
	LLMFailures     uint64            `json:"llm_failures"`
	TokensIn        uint64            `json:"tokens_in"`
	TokensOut       uint64            `json:"tokens_out"`
	PipelineTicks   uint64            `json:"pipeline_ticks"`
	DeferredBatches uint64            `json:"deferred_batches"`
	Findings        map[string]uint64 `json:"findings"`
}

// GetStats returns the current counter snapshot.
func (m *Metrics) GetStats() Stats {
	m.findingsMu.RLock()
	findings := make(map[string]uint64, len(m.findings))
	for k, v := range m.findings {
		findings[k] = v
	}
	m.findingsMu.RUnlock()

	return Stats{
		EventsScored:    m.eventsScored.Load(),
		EventsFromCache: m.eventsFromCache.Load(),
		EventsSuppress:  m.eventsSuppress.Load(),
		LLMRequests:     m.llmRequests.Load(),
		LLMFailures:     m.llmFailures.Load(),
		TokensIn:        m.tokensIn.Load(),
		TokensOut:       m.tokensOut.Load(),
		PipelineTicks:   m.pipelineTicks.Load(),
		DeferredBatches: m.deferredBatches.Load(),
		Findings:        findings,
	}
}

// LogSummary logs the counter snapshot, called on shutdown.
func (m *Metrics) LogSummary() {
	s := m.GetStats()
	m.logger.Info("Pipeline metrics summary",
		zap.Uint64("events_scored", s.EventsScored),
		zap.Uint64("events_from_cache", s.EventsFromCache),
		zap.Uint64("events_suppressed", s.EventsSuppress),
		zap.Uint64("llm_requests", s.LLMRequests),
		zap.Uint64("llm_failures", s.LLMFailures),
		zap.Uint64("tokens_in", s.TokensIn),
		zap.Uint64("tokens_out", s.TokensOut),
		zap.Uint64("deferred_batches", s.DeferredBatches),
	)
}
