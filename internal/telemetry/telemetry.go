// Package telemetry provides monitoring and cost tracking for the query
// pipeline, exposed both as a prometheus registry and as periodic log
// snapshots.
package telemetry

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clinicalkb/medrag/config"
	"github.com/clinicalkb/medrag/internal/provider"
	"github.com/clinicalkb/medrag/internal/rag"
)

// Approximate USD per 1K tokens for cost tracking. Unknown models fall back
// to the zero value and contribute no cost.
type pricing struct {
	input  float64
	output float64
}

var modelPricing = map[string]pricing{
	"gpt-4o":      {input: 0.0025, output: 0.01},
	"gpt-4o-mini": {input: 0.00015, output: 0.0006},
	"o3-mini":     {input: 0.0011, output: 0.0044},
}

// Metrics is a point-in-time snapshot of pipeline activity.
type Metrics struct {
	TotalQueries          int64
	SuccessfulQueries     int64
	CacheHits             int64
	AverageProcessingTime time.Duration
	AverageConfidence     float64

	StepExecutions   map[string]int64
	StepSuccessRates map[string]float64
	StepAverageTimes map[string]time.Duration

	ModelRequests   map[string]int64
	ModelTokensUsed map[string]int64
}

// CostSummary aggregates provider spend.
type CostSummary struct {
	TotalCost   float64
	TotalTokens int64
	ModelCosts  map[string]float64
}

// Telemetry accumulates pipeline metrics. Safe for concurrent use; every
// record method is cheap and never fails the caller.
type Telemetry struct {
	cfg    config.TelemetryConfig
	logger *log.Logger

	mu      sync.RWMutex
	metrics Metrics
	costs   CostSummary

	registry       *prometheus.Registry
	queriesTotal   *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	cacheHitsTotal prometheus.Counter
	confidence     prometheus.Histogram
}

// New creates a telemetry instance with its own prometheus registry.
func New(cfg config.TelemetryConfig) *Telemetry {
	t := &Telemetry{
		cfg:    cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: Metrics{
			StepExecutions:   make(map[string]int64),
			StepSuccessRates: make(map[string]float64),
			StepAverageTimes: make(map[string]time.Duration),
			ModelRequests:    make(map[string]int64),
			ModelTokensUsed:  make(map[string]int64),
		},
		costs:    CostSummary{ModelCosts: make(map[string]float64)},
		registry: prometheus.NewRegistry(),
		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medrag", Name: "queries_total", Help: "Queries answered, by outcome.",
		}, []string{"outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medrag", Name: "step_duration_seconds", Help: "Pipeline step wall-clock duration.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"step", "success"}),
		cacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "medrag", Name: "cache_hits_total", Help: "Result cache hits.",
		}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "medrag", Name: "answer_confidence", Help: "Distribution of answer confidence scores.",
			Buckets: prometheus.LinearBuckets(0.1, 0.05, 18),
		}),
	}
	t.registry.MustRegister(t.queriesTotal, t.stepDuration, t.cacheHitsTotal, t.confidence)
	return t
}

// Handler serves this instance's prometheus registry.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// RecordQuery records a completed query with its token usage.
func (t *Telemetry) RecordQuery(result rag.QueryResult, usage provider.Usage, model string) {
	if !t.cfg.Enabled {
		return
	}
	t.queriesTotal.WithLabelValues("success").Inc()
	t.confidence.Observe(result.Confidence)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TotalQueries++
	t.metrics.SuccessfulQueries++
	elapsed := time.Duration(result.ProcessingTimeMs) * time.Millisecond
	n := t.metrics.TotalQueries
	t.metrics.AverageProcessingTime += (elapsed - t.metrics.AverageProcessingTime) / time.Duration(n)
	t.metrics.AverageConfidence += (result.Confidence - t.metrics.AverageConfidence) / float64(n)

	tokens := usage.PromptTokens + usage.CompletionTokens
	if model != "" {
		t.metrics.ModelRequests[model]++
		t.metrics.ModelTokensUsed[model] += tokens
	}
	t.costs.TotalTokens += tokens
	if t.cfg.CostTracking && model != "" {
		if p, ok := modelPricing[model]; ok {
			cost := float64(usage.PromptTokens)/1000*p.input + float64(usage.CompletionTokens)/1000*p.output
			t.costs.TotalCost += cost
			t.costs.ModelCosts[model] += cost
		}
	}
}

// RecordFailure counts a query that ended in a pipeline error.
func (t *Telemetry) RecordFailure() {
	if !t.cfg.Enabled {
		return
	}
	t.queriesTotal.WithLabelValues("error").Inc()
	t.mu.Lock()
	t.metrics.TotalQueries++
	t.mu.Unlock()
}

// RecordStep records one pipeline step execution.
func (t *Telemetry) RecordStep(step string, durationMs int64, success bool) {
	if !t.cfg.Enabled {
		return
	}
	label := "true"
	if !success {
		label = "false"
	}
	t.stepDuration.WithLabelValues(step, label).Observe(float64(durationMs) / 1000)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.StepExecutions[step]++
	n := t.metrics.StepExecutions[step]
	rate := t.metrics.StepSuccessRates[step] * float64(n-1)
	if success {
		rate++
	}
	t.metrics.StepSuccessRates[step] = rate / float64(n)

	avg := t.metrics.StepAverageTimes[step]
	d := time.Duration(durationMs) * time.Millisecond
	t.metrics.StepAverageTimes[step] = avg + (d-avg)/time.Duration(n)
}

// RecordCacheHit counts a query served from the result cache.
func (t *Telemetry) RecordCacheHit() {
	if !t.cfg.Enabled {
		return
	}
	t.cacheHitsTotal.Inc()
	t.mu.Lock()
	t.metrics.CacheHits++
	t.mu.Unlock()
}

// Snapshot returns a copy of the accumulated metrics.
func (t *Telemetry) Snapshot() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := t.metrics
	out.StepExecutions = copyMap(t.metrics.StepExecutions)
	out.StepSuccessRates = copyMap(t.metrics.StepSuccessRates)
	out.StepAverageTimes = copyMap(t.metrics.StepAverageTimes)
	out.ModelRequests = copyMap(t.metrics.ModelRequests)
	out.ModelTokensUsed = copyMap(t.metrics.ModelTokensUsed)
	return out
}

// Costs returns a copy of the accumulated cost summary.
func (t *Telemetry) Costs() CostSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := t.costs
	out.ModelCosts = copyMap(t.costs.ModelCosts)
	return out
}

// Shutdown logs a final report.
func (t *Telemetry) Shutdown() {
	m := t.Snapshot()
	c := t.Costs()
	t.logger.Printf("final report: queries=%d success=%d cache_hits=%d avg_time=%v avg_confidence=%.2f cost=$%.4f tokens=%d",
		m.TotalQueries, m.SuccessfulQueries, m.CacheHits, m.AverageProcessingTime, m.AverageConfidence, c.TotalCost, c.TotalTokens)
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
