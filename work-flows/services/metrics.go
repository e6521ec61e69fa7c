package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutor_turns_total",
			Help: "User turns processed, by tab and route",
		},
		[]string{"tab", "route"},
	)
	stageOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutor_stage_outcomes_total",
			Help: "Answered stages by outcome (success, retry, forced)",
		},
		[]string{"tab", "kind", "outcome"},
	)
	evaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutor_evaluations_total",
			Help: "Rubric evaluations by verdict (correct, incorrect, fallback)",
		},
		[]string{"verdict"},
	)
	llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "LLM request attempts by provider, model, mode and status",
		},
		[]string{"provider", "model", "mode", "status", "error_type"},
	)
	llmRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "Duration of LLM request attempts in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "model", "mode"},
	)
	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tutor_active_sessions",
			Help: "Sessions currently held in memory",
		},
	)
)

func ObserveTurn(tab, route string) {
	turnsTotal.WithLabelValues(tab, route).Inc()
}

func ObserveStageOutcome(tab, kind, outcome string) {
	stageOutcomesTotal.WithLabelValues(tab, kind, outcome).Inc()
}

func ObserveEvaluation(correct, fallback bool) {
	verdict := "incorrect"
	switch {
	case fallback:
		verdict = "fallback"
	case correct:
		verdict = "correct"
	}
	evaluationsTotal.WithLabelValues(verdict).Inc()
}

// ObserveLLMRequest records one attempt against a provider.
func ObserveLLMRequest(provider, model, mode string, success bool, errorType string, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	llmRequestsTotal.WithLabelValues(provider, model, mode, status, errorType).Inc()
	llmRequestDuration.WithLabelValues(provider, model, mode).Observe(duration.Seconds())
}

func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}
