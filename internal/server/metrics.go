package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_http_requests_total",
		Help: "Total number of inbound HTTP requests by route and status code",
	}, []string{"route", "code"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_http_request_duration_seconds",
		Help:    "Inbound HTTP request duration by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	jobsSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_jobs_submitted_total",
		Help: "Total number of accepted job submissions by mode",
	}, []string{"mode"}) // "sync", "async"

	streamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_stream_clients",
		Help: "Number of connected progress stream clients",
	})
)
