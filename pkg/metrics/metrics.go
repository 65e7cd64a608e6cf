// Package metrics provides Prometheus instrumentation for connector
// operations: query counts and latency by source type, and active
// backend connections.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueriesTotal counts executed queries by source type and outcome.
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datalens",
			Name:      "queries_total",
			Help:      "Total queries executed, by source type and status.",
		},
		[]string{"source_type", "status"},
	)

	// QueryDuration tracks query execution latency in seconds.
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "datalens",
			Name:      "query_duration_seconds",
			Help:      "Query execution latency by source type.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"source_type"},
	)

	// ActiveConnections tracks currently connected connector instances.
	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "datalens",
			Name:      "active_connections",
			Help:      "Connected connector instances by source type.",
		},
		[]string{"source_type"},
	)

	// SchemaIntrospections counts full schema discoveries.
	SchemaIntrospections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datalens",
			Name:      "schema_introspections_total",
			Help:      "Full schema introspections by source type.",
		},
		[]string{"source_type"},
	)
)

// ObserveQuery records one query execution outcome.
func ObserveQuery(sourceType string, elapsed time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	QueriesTotal.WithLabelValues(sourceType, status).Inc()
	QueryDuration.WithLabelValues(sourceType).Observe(elapsed.Seconds())
}

// ConnectionOpened increments the active connection gauge.
func ConnectionOpened(sourceType string) {
	ActiveConnections.WithLabelValues(sourceType).Inc()
}

// ConnectionClosed decrements the active connection gauge.
func ConnectionClosed(sourceType string) {
	ActiveConnections.WithLabelValues(sourceType).Dec()
}
