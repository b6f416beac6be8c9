// Package metrics exposes prometheus collectors for the detection engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts engine operations by name and outcome.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goguardml_operations_total",
			Help: "Total number of engine operations",
		},
		[]string{"operation", "status"},
	)

	// AnomaliesDetected counts reported anomalies by operation and kind.
	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goguardml_anomalies_detected_total",
			Help: "Total number of anomalies reported",
		},
		[]string{"operation", "kind"},
	)

	// OperationDuration observes the latency of each engine operation.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "goguardml_operation_duration_seconds",
			Help:    "Time taken by engine operations",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
		},
		[]string{"operation"},
	)

	// ForestFitDuration observes how long isolation forest fits take.
	ForestFitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "goguardml_forest_fit_duration_seconds",
			Help:    "Time taken to fit an isolation forest",
			Buckets: prometheus.DefBuckets,
		},
	)

	// BaselinesStored is the number of baselines held by all engines in the
	// process. Engines adjust it by the change in their own store size.
	BaselinesStored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "goguardml_baselines_stored",
			Help: "Number of baselines held across all engines",
		},
	)
)

// Status label values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)
