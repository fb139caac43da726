// Package deadletter stores raw change events that failed connector
// deserialization so they can be inspected and replayed.
package deadletter

import (
	"context"
	"time"
)

// DiscardedEvent is a raw event the reader could not turn into a record.
type DiscardedEvent struct {
	// Source identifies the partition reader that discarded the event.
	Source string `json:"source"`

	// Key is the raw event key payload.
	Key []byte `json:"key,omitempty"`

	// Value is the raw event value payload.
	Value []byte `json:"value"`

	// ErrorMessage is the deserialization error.
	ErrorMessage string `json:"error_message"`

	// CreatedAt is when the event was discarded.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is when the entry will be deleted.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Manager defines the interface for dead-letter queue operations.
type Manager interface {
	// Write adds a discarded event to the dead-letter queue.
	Write(ctx context.Context, event DiscardedEvent) error

	// Cleanup removes expired entries from the dead-letter queue and
	// returns how many were deleted.
	Cleanup(ctx context.Context) (int64, error)

	// Close releases any resources held by the manager.
	Close() error
}
