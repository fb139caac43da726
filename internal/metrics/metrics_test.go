package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	if reg == nil {
		t.Fatal("NewRegistry returned nil")
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	// Should have Go runtime metrics plus our custom metrics
	if len(mfs) == 0 {
		t.Error("expected metrics to be registered, got none")
	}
}

func TestRegisterWith(t *testing.T) {
	reg := prometheus.NewRegistry()

	RegisterWith(reg)

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	expectedCount := 12
	if len(allMetrics) != expectedCount {
		t.Errorf("expected %d metrics in allMetrics, got %d", expectedCount, len(allMetrics))
	}
}

func TestMetricLabels(t *testing.T) {
	// Using the expected labels must not panic.
	tests := []struct {
		name string
		fn   func()
	}{
		{
			name: "ReaderEventsTotal",
			fn: func() {
				ReaderEventsTotal.WithLabelValues("postgres-appdb", "record").Inc()
			},
		},
		{
			name: "ReaderRecordsEmittedTotal",
			fn: func() {
				ReaderRecordsEmittedTotal.WithLabelValues("postgres-appdb", "public.users").Inc()
			},
		},
		{
			name: "ReaderDiscardsTotal",
			fn: func() {
				ReaderDiscardsTotal.WithLabelValues("postgres-appdb", "deserialize").Inc()
			},
		},
		{
			name: "ReaderClosesTotal",
			fn: func() {
				ReaderClosesTotal.WithLabelValues("postgres-appdb", "record_reached_target").Inc()
			},
		},
		{
			name: "SinkBatchesTotal",
			fn: func() {
				SinkBatchesTotal.WithLabelValues("public.users", "success").Inc()
			},
		},
		{
			name: "CheckpointSavesTotal",
			fn: func() {
				CheckpointSavesTotal.WithLabelValues("success").Inc()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("metric usage panicked: %v", r)
				}
			}()
			tt.fn()
		})
	}
}
