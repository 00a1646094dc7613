// Copyright (c) 2024 Netskope, Inc. All rights reserved.

// Package metrics records per-run counters for the cleanup pipeline. The tool
// is a batch job, so metrics are written to a node-exporter textfile at the
// end of a run instead of being scraped.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "destlist_cleanup"

// Lookup result label values.
const (
	LookupFound    = "found"
	LookupNotFound = "not_found"
	LookupError    = "error"
	LookupSkipped  = "skipped"
)

// Batch status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// DefaultLookupLatencyBuckets covers telemetry queries, which take from a few
// hundred milliseconds to tens of seconds.
var DefaultLookupLatencyBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Metrics holds the counters for one run. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// StageRecords tracks record counts per stage.
	// Labels: stage (age_filter, enrich, select), kind (input, kept, discarded, candidates, ids)
	StageRecords *prometheus.GaugeVec

	// TelemetryLookups counts telemetry lookups by result.
	TelemetryLookups *prometheus.CounterVec

	// TelemetryLatency tracks telemetry lookup latency in seconds.
	TelemetryLatency prometheus.Histogram

	// DeleteBatches counts delete batch calls by status.
	DeleteBatches *prometheus.CounterVec

	// DestinationsDeleted counts destination IDs reported deleted.
	DestinationsDeleted prometheus.Counter

	// DestinationsFailed counts destination IDs in failed batches.
	DestinationsFailed prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates metrics registered with a fresh registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry creates metrics registered with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StageRecords: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stage",
				Name:      "records",
				Help:      "Record counts per pipeline stage.",
			},
			[]string{"stage", "kind"},
		),
		TelemetryLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "telemetry",
				Name:      "lookups_total",
				Help:      "Telemetry lookups by result.",
			},
			[]string{"result"},
		),
		TelemetryLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "telemetry",
				Name:      "lookup_latency_seconds",
				Help:      "Telemetry lookup latency in seconds.",
				Buckets:   DefaultLookupLatencyBuckets,
			},
		),
		DeleteBatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "delete",
				Name:      "batches_total",
				Help:      "Delete batch calls by status.",
			},
			[]string{"status"},
		),
		DestinationsDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "delete",
				Name:      "destinations_deleted_total",
				Help:      "Destination IDs in batches the API accepted.",
			},
		),
		DestinationsFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "delete",
				Name:      "destinations_failed_total",
				Help:      "Destination IDs in batches the API rejected.",
			},
		),
	}

	reg.MustRegister(
		m.StageRecords,
		m.TelemetryLookups,
		m.TelemetryLatency,
		m.DeleteBatches,
		m.DestinationsDeleted,
		m.DestinationsFailed,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// SetStage records a record count for a stage.
func (m *Metrics) SetStage(stage, kind string, n int) {
	if m == nil {
		return
	}
	m.StageRecords.WithLabelValues(stage, kind).Set(float64(n))
}

// RecordLookup records one telemetry lookup.
func (m *Metrics) RecordLookup(result string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TelemetryLookups.WithLabelValues(result).Inc()
	if result != LookupSkipped {
		m.TelemetryLatency.Observe(durationSeconds)
	}
}

// RecordBatch records one delete batch of n IDs.
func (m *Metrics) RecordBatch(success bool, n int) {
	if m == nil {
		return
	}
	if success {
		m.DeleteBatches.WithLabelValues(StatusSuccess).Inc()
		m.DestinationsDeleted.Add(float64(n))
		return
	}
	m.DeleteBatches.WithLabelValues(StatusFailure).Inc()
	m.DestinationsFailed.Add(float64(n))
}

// WriteTextfile writes the current values in the text exposition format to
// path, for the node-exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if m.gatherer == nil {
		return fmt.Errorf("metrics registry is not gatherable")
	}
	if err := prometheus.WriteToTextfile(path, m.gatherer); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
