// Package metrics registers the Prometheus collectors recorded by the
// diagnosis pipeline and the knowledge-graph query surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medrag_sessions_started_total",
		Help: "Diagnosis sessions submitted.",
	})

	SessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medrag_sessions_finished_total",
		Help: "Diagnosis sessions reaching a terminal state.",
	}, []string{"state"})

	DegradedResults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medrag_degraded_results_total",
		Help: "Completed sessions where at least one stage fell back to defaults.",
	})

	ProviderFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medrag_provider_fallbacks_total",
		Help: "Generation requests served by the offline provider after a networked failure.",
	})

	StageRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medrag_stage_retries_total",
		Help: "Pipeline stage retries by stage name.",
	}, []string{"stage"})

	KGQueries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medrag_kg_queries_total",
		Help: "Knowledge-graph read-surface queries.",
	})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "medrag_active_jobs",
		Help: "Diagnosis jobs currently queued or running.",
	})

	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "medrag_job_duration_seconds",
		Help:    "Wall-clock duration of diagnosis jobs.",
		Buckets: prometheus.DefBuckets,
	})
)
