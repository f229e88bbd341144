// Package telemetry exposes Prometheus collectors for the lead pipeline
// and tracks LLM spend per model.
package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohammad-safakhou/leadgen/config"
)

var (
	runsTotal            *prometheus.CounterVec
	runDurationSeconds   prometheus.Histogram
	stageDurationSeconds *prometheus.HistogramVec
	leadsTotal           *prometheus.CounterVec
	llmTokensTotal       *prometheus.CounterVec
	activeRuns           prometheus.Gauge

	once sync.Once
)

// initCollectors registers the collectors with the default registry.
// Guarded by once since Telemetry is constructed per server but the
// default registry panics on duplicate registration.
func initCollectors() {
	once.Do(func() {
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadgen_runs_total",
				Help: "Total pipeline runs, labeled by terminal status.",
			},
			[]string{"status"},
		)
		runDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "leadgen_run_duration_seconds",
				Help:    "Histogram of end-to-end pipeline run durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
			},
		)
		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadgen_stage_duration_seconds",
				Help:    "Histogram of per-stage durations, labeled by stage.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"stage"},
		)
		leadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadgen_leads_total",
				Help: "Total leads accepted, labeled by quality.",
			},
			[]string{"quality"},
		)
		llmTokensTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadgen_llm_tokens_total",
				Help: "Total LLM tokens consumed, labeled by model and kind.",
			},
			[]string{"model", "kind"},
		)
		activeRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadgen_active_runs",
				Help: "Number of pipeline runs currently executing.",
			},
		)
	})
}

// Telemetry records pipeline metrics and LLM costs.
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	costTracker *CostTracker
}

// CostTracker accumulates LLM spend across a process lifetime.
type CostTracker struct {
	mu          sync.RWMutex
	ModelCosts  map[string]float64
	TotalCost   float64
	TotalTokens int64
}

// CostSummary is a snapshot of accumulated LLM spend.
type CostSummary struct {
	TotalCost   float64            `json:"total_cost"`
	TotalTokens int64              `json:"total_tokens"`
	ModelCosts  map[string]float64 `json:"model_costs"`
}

// NewTelemetry creates a telemetry instance backed by the default
// Prometheus registry.
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	initCollectors()
	return &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		costTracker: &CostTracker{
			ModelCosts: make(map[string]float64),
		},
	}
}

// RunStarted marks one more run in flight.
func (t *Telemetry) RunStarted() {
	if t == nil {
		return
	}
	activeRuns.Inc()
}

// RunFinished records a run reaching a terminal status.
func (t *Telemetry) RunFinished(status string, duration time.Duration) {
	if t == nil {
		return
	}
	activeRuns.Dec()
	runsTotal.WithLabelValues(status).Inc()
	runDurationSeconds.Observe(duration.Seconds())
	if t.config.Enabled {
		t.logger.Printf("Run finished: status=%s duration=%v", status, duration)
	}
}

// StageCompleted records the duration of one pipeline stage.
func (t *Telemetry) StageCompleted(stage string, duration time.Duration) {
	if t == nil {
		return
	}
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// LeadAccepted counts a lead that passed the quality filter.
func (t *Telemetry) LeadAccepted(quality string) {
	if t == nil {
		return
	}
	leadsTotal.WithLabelValues(quality).Inc()
}

// RecordLLMUsage counts token consumption for one completed LLM call and,
// when cost tracking is on, accumulates the dollar cost at the given
// per-1K-token rates.
func (t *Telemetry) RecordLLMUsage(model string, promptTokens, completionTokens int, costPer1KInput, costPer1KOutput float64) {
	if t == nil {
		return
	}
	llmTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	llmTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))

	if !t.config.CostTracking {
		return
	}
	cost := float64(promptTokens)/1000.0*costPer1KInput + float64(completionTokens)/1000.0*costPer1KOutput
	t.costTracker.mu.Lock()
	t.costTracker.TotalCost += cost
	t.costTracker.TotalTokens += int64(promptTokens + completionTokens)
	t.costTracker.ModelCosts[model] += cost
	t.costTracker.mu.Unlock()

	if t.config.Enabled {
		t.logger.Printf("LLM usage: model=%s prompt=%d completion=%d cost=$%.4f",
			model, promptTokens, completionTokens, cost)
	}
}

// GetCostSummary returns a copy of the accumulated cost state.
func (t *Telemetry) GetCostSummary() CostSummary {
	if t == nil {
		return CostSummary{ModelCosts: map[string]float64{}}
	}
	t.costTracker.mu.RLock()
	defer t.costTracker.mu.RUnlock()

	summary := CostSummary{
		TotalCost:   t.costTracker.TotalCost,
		TotalTokens: t.costTracker.TotalTokens,
		ModelCosts:  make(map[string]float64, len(t.costTracker.ModelCosts)),
	}
	for k, v := range t.costTracker.ModelCosts {
		summary.ModelCosts[k] = v
	}
	return summary
}
