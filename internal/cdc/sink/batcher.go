package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/janovincze/iris/internal/cdc"
)

// BatchConfig holds configuration for a record batcher.
type BatchConfig struct {
	// MaxRecords caps the number of records per flush.
	MaxRecords int

	// MaxBytes caps the accumulated payload size per flush. Zero means use
	// the sink's preferred size.
	MaxBytes int64

	// Retry configuration
	RetryMaxAttempts     int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64
}

// DefaultBatchConfig returns a BatchConfig with sensible defaults.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		MaxRecords:           1000,
		RetryMaxAttempts:     3,
		RetryInitialInterval: time.Second,
		RetryMaxInterval:     30 * time.Second,
		RetryMultiplier:      2.0,
	}
}

// Batcher accumulates the records routed to one stream and flushes them to a
// sink when the batch reaches size thresholds. Accept runs on the engine's
// event goroutine, so a flush applies natural backpressure to the change
// stream. A flush failure is sticky: later batches are dropped and the error
// is reported by Err.
type Batcher struct {
	ctx      context.Context
	sink     Sink
	stream   cdc.StreamID
	maxBytes int64
	config   BatchConfig
	logger   *slog.Logger

	mu           sync.Mutex
	pending      []cdc.Record
	pendingBytes int64
	flushErr     error
}

// NewBatcher creates a batcher for one stream. ctx bounds the flushes issued
// from the event path.
func NewBatcher(ctx context.Context, s Sink, stream cdc.StreamID, cfg BatchConfig, logger *slog.Logger) *Batcher {
	if logger == nil {
		logger = slog.Default()
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = s.OptimalBatchBytes()
	}

	return &Batcher{
		ctx:      ctx,
		sink:     s,
		stream:   stream,
		maxBytes: maxBytes,
		config:   cfg,
		logger:   logger.With("component", "sink-batcher", "stream", stream.String()),
	}
}

// Accept buffers one record and flushes when the batch is full.
func (b *Batcher) Accept(rec cdc.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.flushErr != nil {
		return
	}

	b.pending = append(b.pending, rec)
	b.pendingBytes += recordSize(rec)

	if len(b.pending) >= b.config.MaxRecords || b.pendingBytes >= b.maxBytes {
		b.flushLocked(b.ctx)
	}
}

// Flush writes any buffered remainder. Call it after the change stream has
// halted.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.flushErr != nil {
		return b.flushErr
	}
	b.flushLocked(ctx)
	return b.flushErr
}

// Err returns the sticky flush error, if any.
func (b *Batcher) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushErr
}

// Pending returns the number of buffered records awaiting a flush.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Batcher) flushLocked(ctx context.Context) {
	if len(b.pending) == 0 {
		return
	}

	batch := b.pending
	b.pending = nil
	b.pendingBytes = 0

	var lastErr error
	for attempt := 1; attempt <= b.config.RetryMaxAttempts; attempt++ {
		lastErr = b.sink.Flush(ctx, b.stream, batch)
		if lastErr == nil {
			b.logger.Debug("batch flushed", "count", len(batch))
			return
		}

		b.logger.Warn("batch flush failed, retrying",
			"attempt", attempt,
			"max_attempts", b.config.RetryMaxAttempts,
			"error", lastErr,
		)

		if attempt >= b.config.RetryMaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			b.flushErr = ctx.Err()
			return
		case <-time.After(b.backoff(attempt)):
		}
	}

	b.flushErr = fmt.Errorf("flush %d records to %s: %w", len(batch), b.stream.String(), lastErr)
}

func (b *Batcher) backoff(attempt int) time.Duration {
	backoff := float64(b.config.RetryInitialInterval) * math.Pow(b.config.RetryMultiplier, float64(attempt-1))
	if backoff > float64(b.config.RetryMaxInterval) {
		backoff = float64(b.config.RetryMaxInterval)
	}
	return time.Duration(backoff)
}

// recordSize estimates the wire size of a record's row images.
func recordSize(rec cdc.Record) int64 {
	size := int64(len(rec.ID))
	if rec.HasBefore() {
		if data, err := json.Marshal(rec.Before); err == nil {
			size += int64(len(data))
		}
	}
	if rec.HasAfter() {
		if data, err := json.Marshal(rec.After); err == nil {
			size += int64(len(data))
		}
	}
	return size
}
