// Package sink delivers emitted change records to their destination in
// stream-ordered batches.
package sink

import (
	"context"

	"github.com/janovincze/iris/internal/cdc"
)

// Sink writes batches of change records for a single stream.
type Sink interface {
	// Flush writes one batch. The batch is either fully written or fully
	// rejected; a returned error means no record in it was persisted.
	Flush(ctx context.Context, stream cdc.StreamID, records []cdc.Record) error

	// OptimalBatchBytes is the accumulated payload size at which the sink
	// prefers to receive a flush.
	OptimalBatchBytes() int64

	// Close releases any resources held by the sink.
	Close() error
}

// Config holds configuration for record sinks.
type Config struct {
	// DSN is the destination connection string.
	DSN string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}
}
