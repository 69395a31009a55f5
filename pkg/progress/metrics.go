package progress

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreWrites tracks snapshots written to Redis
	StoreWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_progress_writes_total",
			Help: "Total number of progress snapshots written to the store",
		},
	)

	// StoreLookups tracks snapshot lookups by result
	StoreLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_progress_lookups_total",
			Help: "Total number of progress snapshot lookups",
		},
		[]string{"result"}, // "hit", "miss"
	)

	// StoreErrors tracks store operation errors
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_progress_errors_total",
			Help: "Total number of progress store errors",
		},
		[]string{"operation"}, // "save", "load", "delete"
	)
)
