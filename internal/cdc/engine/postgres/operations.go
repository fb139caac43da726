package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/janovincze/iris/internal/cdc"
)

// Operations interprets the events and state of the PostgreSQL engine for a
// partition reader: deserialization, position extraction, and resumption
// state serialization. The PostgreSQL connector is not schema-tracking.
type Operations struct{}

// NewOperations creates the connector operations for the PostgreSQL engine.
func NewOperations() *Operations {
	return &Operations{}
}

// Deserialize decodes a raw event's value payload into a record.
// Heartbeat payloads and payloads without a recognizable change action fail
// deserialization; the reader counts those as discarded and moves on.
func (o *Operations) Deserialize(_, value []byte) (*cdc.Record, error) {
	var p payload
	if err := json.Unmarshal(value, &p); err != nil {
		return nil, fmt.Errorf("decode value payload: %w", err)
	}
	if p.Heartbeat {
		return nil, ErrNotRecord
	}

	var op cdc.Operation
	switch p.Action {
	case "I":
		op = cdc.OperationInsert
	case "U":
		op = cdc.OperationUpdate
	case "D":
		op = cdc.OperationDelete
	default:
		return nil, fmt.Errorf("%w: action %q", ErrNotRecord, p.Action)
	}

	return &cdc.Record{
		ID:        uuid.New().String(),
		Stream:    cdc.StreamID{Namespace: p.Schema, Name: p.Table},
		Operation: op,
		Timestamp: p.Timestamp,
		Before:    p.Before,
		After:     p.After,
	}, nil
}

// IsHeartbeat reports whether the value payload is a heartbeat marker.
func (o *Operations) IsHeartbeat(value []byte) bool {
	var probe struct {
		Heartbeat bool `json:"heartbeat"`
	}
	if err := json.Unmarshal(value, &probe); err != nil {
		return false
	}
	return probe.Heartbeat
}

// PositionFromMetadata extracts the event's LSN from its source metadata.
func (o *Operations) PositionFromMetadata(source map[string]any) (cdc.LSN, bool) {
	raw, ok := source["lsn"].(string)
	if !ok || raw == "" {
		return 0, false
	}
	lsn, err := cdc.ParseLSN(raw)
	if err != nil {
		return 0, false
	}
	return lsn, true
}

// PositionFromValue extracts the event's LSN from its value payload.
func (o *Operations) PositionFromValue(value []byte) (cdc.LSN, bool) {
	var probe struct {
		LSN string `json:"lsn"`
	}
	if err := json.Unmarshal(value, &probe); err != nil || probe.LSN == "" {
		return 0, false
	}
	lsn, err := cdc.ParseLSN(probe.LSN)
	if err != nil {
		return 0, false
	}
	return lsn, true
}

// SerializeState serializes engine state into the opaque checkpoint blob.
func (o *Operations) SerializeState(state cdc.State) (json.RawMessage, error) {
	blob, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("serialize state: %w", err)
	}
	return blob, nil
}

// SyntheticState fabricates a seed state for runs without a prior checkpoint.
// Readers started from it suppress completion for all non-heartbeat events
// until the initial snapshot has passed.
func SyntheticState() cdc.State {
	offset, _ := json.Marshal(offsetFile{LSN: "0/0"})
	return cdc.State{Offset: offset, Synthetic: true}
}
