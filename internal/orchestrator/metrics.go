package orchestrator

import (
	"time"

	"github.com/fyrsmithlabs/aceql/internal/curator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts finished cycles.
	// Labels: outcome (success, failure, error), learning (LearningStatus)
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aceql",
			Subsystem: "orchestrator",
			Name:      "cycles_total",
			Help:      "Total number of orchestration cycles by outcome and learning status",
		},
		[]string{"outcome", "learning"},
	)

	// StageDuration tracks per-stage latency.
	// Labels: stage (StepRecord component)
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aceql",
			Subsystem: "orchestrator",
			Name:      "stage_duration_seconds",
			Help:      "Duration of orchestration stages in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	// CuratedOperations counts applied curator operations.
	// Labels: type (ADD, UPDATE, DELETE), action (added, merged, reinforced, updated, deleted, skipped)
	CuratedOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aceql",
			Subsystem: "curator",
			Name:      "operations_total",
			Help:      "Total number of curator operations applied to the playbook",
		},
		[]string{"type", "action"},
	)

	// CycleTokens tracks estimated tokens per cycle.
	CycleTokens = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "aceql",
			Subsystem: "orchestrator",
			Name:      "cycle_tokens",
			Help:      "Estimated completion tokens spent per cycle",
			Buckets:   prometheus.ExponentialBuckets(250, 2, 8),
		},
	)
)

func observeStage(c Component, d time.Duration) {
	StageDuration.WithLabelValues(string(c)).Observe(d.Seconds())
}

func observeApplied(report curator.ApplyReport) {
	for _, a := range report.Applied {
		CuratedOperations.WithLabelValues(string(a.Type), string(a.Action)).Inc()
	}
}

// observeCycle records a finished run.
func observeCycle(rec *RunRecord) {
	outcome := "failure"
	switch {
	case rec.Error != "":
		outcome = "error"
	case rec.Outcome.Success:
		outcome = "success"
	}
	CyclesTotal.WithLabelValues(outcome, string(rec.Learning)).Inc()
	CycleTokens.Observe(float64(rec.Metrics.TotalTokens))
}
