package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for dispatcher operations.
var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_jobs_total",
		Help: "Total finished jobs by terminal state",
	}, []string{"state"})

	jobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_jobs_running",
		Help: "Number of jobs currently running",
	})

	batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_batches_total",
		Help: "Total completed batches",
	})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_batch_duration_seconds",
		Help:    "Time from batch fan-out until every call settled",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_calls_total",
		Help: "Total dispatched calls by outcome",
	}, []string{"outcome"})

	pacingSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_pacing_seconds",
		Help:    "Pacing delay actually waited between batches",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	})
)
