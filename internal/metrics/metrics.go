// Package metrics provides Prometheus metrics for Iris components.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var registerOnce sync.Once

const (
	// Namespace is the Prometheus namespace for all Iris metrics.
	Namespace = "iris"

	// Subsystem constants for metric organization.
	SubsystemReader     = "reader"
	SubsystemSink       = "sink"
	SubsystemCheckpoint = "checkpoint"
)

// Label constants for consistent labeling across metrics.
const (
	LabelSource = "source"
	LabelStream = "stream"
	LabelKind   = "kind"
	LabelReason = "reason"
	LabelStatus = "status"
)

var (
	// Reader metrics

	// ReaderEventsTotal counts raw change events delivered by the engine.
	ReaderEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemReader,
			Name:      "events_total",
			Help:      "Total number of raw change events delivered by the engine",
		},
		[]string{LabelSource, LabelKind},
	)

	// ReaderRecordsEmittedTotal counts records routed to stream consumers.
	ReaderRecordsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemReader,
			Name:      "records_emitted_total",
			Help:      "Total number of records routed to stream consumers",
		},
		[]string{LabelSource, LabelStream},
	)

	// ReaderDiscardsTotal counts events discarded without emitting a record.
	ReaderDiscardsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemReader,
			Name:      "discards_total",
			Help:      "Total number of events discarded without emitting a record",
		},
		[]string{LabelSource, LabelReason},
	)

	// ReaderEventsWithoutPositionTotal counts events lacking source position metadata.
	ReaderEventsWithoutPositionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemReader,
			Name:      "events_without_position_total",
			Help:      "Total number of events carrying no source position metadata",
		},
		[]string{LabelSource},
	)

	// ReaderClosesTotal counts engine close decisions by reason.
	ReaderClosesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemReader,
			Name:      "closes_total",
			Help:      "Total number of engine close decisions by reason",
		},
		[]string{LabelSource, LabelReason},
	)

	// ReaderRunDuration tracks the duration of partition read runs.
	ReaderRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemReader,
			Name:      "run_duration_seconds",
			Help:      "Duration of partition read runs in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{LabelSource},
	)

	// ReaderSlotsTotal is the size of the shared reader slot pool.
	ReaderSlotsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemReader,
			Name:      "slots_total",
			Help:      "Size of the shared reader slot pool",
		},
	)

	// ReaderSlotsInUse is the number of currently acquired reader slots.
	ReaderSlotsInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemReader,
			Name:      "slots_in_use",
			Help:      "Number of currently acquired reader slots",
		},
	)

	// Sink metrics

	// SinkBatchesTotal counts record batches flushed to the sink.
	SinkBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemSink,
			Name:      "batches_total",
			Help:      "Total number of record batches flushed to the sink",
		},
		[]string{LabelStream, LabelStatus},
	)

	// SinkRecordsWrittenTotal counts records written by the sink.
	SinkRecordsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemSink,
			Name:      "records_written_total",
			Help:      "Total number of records written by the sink",
		},
		[]string{LabelStream},
	)

	// Checkpoint metrics

	// CheckpointSavesTotal counts checkpoint save attempts by status.
	CheckpointSavesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemCheckpoint,
			Name:      "saves_total",
			Help:      "Total number of checkpoint save attempts",
		},
		[]string{LabelStatus},
	)

	// DeadLetterTotal counts poison events written to the dead-letter store.
	DeadLetterTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemReader,
			Name:      "dead_letter_total",
			Help:      "Total number of poison events written to the dead-letter store",
		},
		[]string{LabelSource},
	)

	// allMetrics contains all metrics for registration.
	allMetrics = []prometheus.Collector{
		// Reader
		ReaderEventsTotal,
		ReaderRecordsEmittedTotal,
		ReaderDiscardsTotal,
		ReaderEventsWithoutPositionTotal,
		ReaderClosesTotal,
		ReaderRunDuration,
		ReaderSlotsTotal,
		ReaderSlotsInUse,
		// Sink
		SinkBatchesTotal,
		SinkRecordsWrittenTotal,
		// Checkpoint
		CheckpointSavesTotal,
		DeadLetterTotal,
	}
)

// Register registers all Iris metrics with the default Prometheus registry.
// It is safe to call multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		for _, m := range allMetrics {
			prometheus.MustRegister(m)
		}
	})
}

// RegisterWith registers all Iris metrics with the given registry.
func RegisterWith(reg prometheus.Registerer) {
	for _, m := range allMetrics {
		reg.MustRegister(m)
	}
}

// NewRegistry creates a new Prometheus registry with all Iris metrics
// and standard Go runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()

	// Register standard collectors
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Register Iris metrics
	RegisterWith(reg)

	return reg
}
