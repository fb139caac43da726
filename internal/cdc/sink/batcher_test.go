package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/janovincze/iris/internal/cdc"
)

type mockSink struct {
	mu         sync.Mutex
	flushes    [][]cdc.Record
	failFirst  int
	flushCalls int
	batchBytes int64
}

func (m *mockSink) Flush(ctx context.Context, stream cdc.StreamID, records []cdc.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushCalls++
	if m.flushCalls <= m.failFirst {
		return errors.New("destination unavailable")
	}
	batch := make([]cdc.Record, len(records))
	copy(batch, records)
	m.flushes = append(m.flushes, batch)
	return nil
}

func (m *mockSink) OptimalBatchBytes() int64 {
	if m.batchBytes > 0 {
		return m.batchBytes
	}
	return 1 << 20
}

func (m *mockSink) Close() error { return nil }

func (m *mockSink) batches() [][]cdc.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

func testRecord(i int) cdc.Record {
	return cdc.Record{
		ID:        fmt.Sprintf("rec-%d", i),
		Stream:    cdc.StreamID{Namespace: "public", Name: "users"},
		Operation: cdc.OperationInsert,
		After:     map[string]any{"id": i},
	}
}

func fastRetryConfig() BatchConfig {
	cfg := DefaultBatchConfig()
	cfg.RetryInitialInterval = time.Millisecond
	cfg.RetryMaxInterval = time.Millisecond
	return cfg
}

func TestBatcherFlushesOnRecordCount(t *testing.T) {
	sink := &mockSink{}
	cfg := fastRetryConfig()
	cfg.MaxRecords = 3

	b := NewBatcher(context.Background(), sink, cdc.StreamID{Namespace: "public", Name: "users"}, cfg, nil)

	for i := 0; i < 7; i++ {
		b.Accept(testRecord(i))
	}

	batches := sink.batches()
	if len(batches) != 2 {
		t.Fatalf("flushed %d batches, want 2", len(batches))
	}
	for i, batch := range batches {
		if len(batch) != 3 {
			t.Errorf("batch %d has %d records, want 3", i, len(batch))
		}
	}
	if got := b.Pending(); got != 1 {
		t.Errorf("pending = %d, want 1", got)
	}
}

func TestBatcherFlushesOnByteSize(t *testing.T) {
	sink := &mockSink{batchBytes: 1}
	cfg := fastRetryConfig()
	cfg.MaxRecords = 1000

	b := NewBatcher(context.Background(), sink, cdc.StreamID{Namespace: "public", Name: "users"}, cfg, nil)

	// Every record exceeds a one-byte budget on its own.
	b.Accept(testRecord(1))
	b.Accept(testRecord(2))

	if got := len(sink.batches()); got != 2 {
		t.Errorf("flushed %d batches, want 2", got)
	}
}

func TestBatcherFinalFlushDrainsRemainder(t *testing.T) {
	sink := &mockSink{}
	cfg := fastRetryConfig()
	cfg.MaxRecords = 100

	b := NewBatcher(context.Background(), sink, cdc.StreamID{Namespace: "public", Name: "users"}, cfg, nil)

	for i := 0; i < 5; i++ {
		b.Accept(testRecord(i))
	}
	if got := len(sink.batches()); got != 0 {
		t.Fatalf("flushed %d batches before final flush, want 0", got)
	}

	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}

	batches := sink.batches()
	if len(batches) != 1 || len(batches[0]) != 5 {
		t.Fatalf("final flush produced %v batches, want one batch of 5", len(batches))
	}
	if got := b.Pending(); got != 0 {
		t.Errorf("pending = %d after final flush, want 0", got)
	}
}

func TestBatcherRetriesTransientFailures(t *testing.T) {
	sink := &mockSink{failFirst: 2}
	cfg := fastRetryConfig()
	cfg.MaxRecords = 2

	b := NewBatcher(context.Background(), sink, cdc.StreamID{Namespace: "public", Name: "users"}, cfg, nil)

	b.Accept(testRecord(1))
	b.Accept(testRecord(2))

	if err := b.Err(); err != nil {
		t.Fatalf("Err() = %v after recoverable failure, want nil", err)
	}
	if got := len(sink.batches()); got != 1 {
		t.Errorf("flushed %d batches, want 1", got)
	}
}

func TestBatcherFlushErrorIsSticky(t *testing.T) {
	sink := &mockSink{failFirst: 1000}
	cfg := fastRetryConfig()
	cfg.MaxRecords = 1

	b := NewBatcher(context.Background(), sink, cdc.StreamID{Namespace: "public", Name: "users"}, cfg, nil)

	b.Accept(testRecord(1))
	if err := b.Err(); err == nil {
		t.Fatal("Err() = nil after exhausted retries")
	}

	calls := sink.flushCalls
	// Later records are dropped, not re-flushed.
	b.Accept(testRecord(2))
	if sink.flushCalls != calls {
		t.Error("batcher kept flushing after a sticky error")
	}

	if err := b.Flush(context.Background()); err == nil {
		t.Error("final Flush() = nil, want the sticky error")
	}
}
