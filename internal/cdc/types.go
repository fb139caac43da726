// Package cdc provides the shared types for change-data-capture partition reads.
package cdc

import (
	"encoding/json"
	"time"
)

// Operation represents the type of database operation captured by CDC.
type Operation string

const (
	// OperationInsert represents an INSERT operation.
	OperationInsert Operation = "INSERT"
	// OperationUpdate represents an UPDATE operation.
	OperationUpdate Operation = "UPDATE"
	// OperationDelete represents a DELETE operation.
	OperationDelete Operation = "DELETE"
)

// StreamID identifies the destination stream of a captured record.
type StreamID struct {
	// Namespace is the source schema or database name.
	Namespace string `json:"namespace"`

	// Name is the table name within the namespace.
	Name string `json:"name"`
}

// String returns the fully qualified stream name (namespace.name).
func (s StreamID) String() string {
	if s.Namespace == "" {
		return s.Name
	}
	return s.Namespace + "." + s.Name
}

// Record is a single deserialized change event routed to a stream consumer.
// Records are transient: they are handed to the destination stream's consumer
// as soon as they are produced and never buffered beyond one event.
type Record struct {
	// ID is the unique identifier for this record.
	ID string `json:"id"`

	// Stream is the destination stream for this record.
	Stream StreamID `json:"stream"`

	// Operation is the type of change (INSERT, UPDATE, DELETE).
	Operation Operation `json:"operation"`

	// Timestamp is when the change occurred in the source database.
	Timestamp time.Time `json:"timestamp"`

	// Before contains the row data before the change (for UPDATE and DELETE).
	Before map[string]any `json:"before,omitempty"`

	// After contains the row data after the change (for INSERT and UPDATE).
	After map[string]any `json:"after,omitempty"`
}

// HasBefore returns true if the record has before data.
func (r *Record) HasBefore() bool {
	return len(r.Before) > 0
}

// HasAfter returns true if the record has after data.
func (r *Record) HasAfter() bool {
	return len(r.After) > 0
}

// State is the engine-internal resumption state owned by a reader for the
// duration of one run. It seeds the engine at start and is read back with
// engine-updated values at checkpoint time.
type State struct {
	// Offset is the opaque, engine-specific position marker.
	Offset json.RawMessage `json:"offset"`

	// SchemaHistory is the engine's schema history, present only for
	// schema-tracking connectors.
	SchemaHistory json.RawMessage `json:"schema_history,omitempty"`

	// Synthetic is true when the offset was fabricated rather than read
	// from a prior checkpoint.
	Synthetic bool `json:"synthetic"`
}

// PartitionReadCheckpoint is the resumable result of one partition read.
// It is produced once per reader invocation and immutable once built.
type PartitionReadCheckpoint struct {
	// State is the opaque serialized engine state to resume from.
	State json.RawMessage `json:"state"`

	// RecordsEmitted is the number of records routed to stream consumers
	// during the run.
	RecordsEmitted int64 `json:"records_emitted"`
}

// Position is a totally ordered marker of progress through a change log.
// Compare returns a negative value when the receiver is before other,
// zero when equal, and a positive value when past it.
type Position[T any] interface {
	Compare(other T) int
}

// CloseReason records why a partition reader decided to stop its engine.
// It is set at most once per run and is informative only: it drives the
// shutdown log message but never checkpoint correctness.
type CloseReason int

const (
	// CloseTimeout indicates the calling context was cancelled or timed out.
	CloseTimeout CloseReason = iota
	// CloseHeartbeatOrTombstoneReachedTarget indicates a heartbeat or
	// tombstone event reached the configured upper bound position.
	CloseHeartbeatOrTombstoneReachedTarget
	// CloseRecordReachedTarget indicates a record or discarded event reached
	// the configured upper bound position.
	CloseRecordReachedTarget
)

// String returns the string representation of the close reason.
func (r CloseReason) String() string {
	switch r {
	case CloseTimeout:
		return "timeout"
	case CloseHeartbeatOrTombstoneReachedTarget:
		return "heartbeat_or_tombstone_reached_target"
	case CloseRecordReachedTarget:
		return "record_reached_target"
	default:
		return "unknown"
	}
}
