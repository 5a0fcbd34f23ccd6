package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rainfallqc_checks_total",
			Help: "Total QC check runs",
		},
		[]string{"framework", "check", "status"},
	)

	CheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rainfallqc_check_duration_seconds",
			Help:    "QC check run time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"framework", "check"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rainfallqc_runs_total",
			Help: "Total framework runs",
		},
		[]string{"framework", "status"},
	)

	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rainfallqc_fetch_total",
			Help: "Total archive fetches",
		},
		[]string{"scheme", "status"},
	)

	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rainfallqc_fetch_latency_seconds",
			Help:    "Archive fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scheme"},
	)
)
