package reader

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/janovincze/iris/internal/cdc"
	"github.com/janovincze/iris/internal/cdc/engine"
	"github.com/janovincze/iris/internal/metrics"
)

// RecordConsumer receives the records routed to one destination stream.
// It is invoked on the engine's goroutine and must not block indefinitely.
type RecordConsumer interface {
	Accept(rec cdc.Record)
}

// RecordConsumerFunc adapts a function to the RecordConsumer interface.
type RecordConsumerFunc func(rec cdc.Record)

// Accept calls f(rec).
func (f RecordConsumerFunc) Accept(rec cdc.Record) { f(rec) }

// Operations is the connector-specific interpretation of raw engine events
// and engine state.
type Operations[T cdc.Position[T]] interface {
	// Deserialize decodes an event's payload into a record. A failure is a
	// content filter, not an error condition: the event is discarded.
	Deserialize(key, value []byte) (*cdc.Record, error)

	// IsHeartbeat reports whether the value payload is a heartbeat marker.
	IsHeartbeat(value []byte) bool

	// PositionFromMetadata extracts the event position from source metadata.
	PositionFromMetadata(source map[string]any) (T, bool)

	// PositionFromValue extracts the event position from the value payload.
	PositionFromValue(value []byte) (T, bool)

	// SerializeState serializes engine state into an opaque checkpoint blob.
	SerializeState(state cdc.State) (json.RawMessage, error)
}

// DiscardRecorder receives events that failed connector deserialization.
// Implementations are best effort and must not block the event pipeline.
type DiscardRecorder interface {
	Record(source string, key, value []byte, cause error)
}

// eventKind classifies a raw engine event.
type eventKind int

const (
	kindRecord eventKind = iota
	kindHeartbeat
	kindTombstone
	kindDiscard
)

func (k eventKind) String() string {
	switch k {
	case kindRecord:
		return "record"
	case kindHeartbeat:
		return "heartbeat"
	case kindTombstone:
		return "tombstone"
	case kindDiscard:
		return "discard"
	default:
		return "unknown"
	}
}

// eventConsumer is the per-event callback registered with the engine. It runs
// on the engine's goroutine; the caller's context acts as the cancellation
// token it shares with the blocked supervisor.
type eventConsumer[T cdc.Position[T]] struct {
	ctx        context.Context
	source     string
	ops        Operations[T]
	consumers  map[cdc.StreamID]RecordConsumer
	upperBound T
	synthetic  bool
	counters   *counters
	trigger    *closeTrigger
	discards   DiscardRecorder
	logger     *slog.Logger
}

// Accept processes one raw change event: count, extract position, classify,
// route, and evaluate the stop condition.
func (c *eventConsumer[T]) Accept(ev engine.Event) {
	c.counters.events.Add(1)

	var pos T
	havePos := false
	if ev.Source != nil {
		pos, havePos = c.ops.PositionFromMetadata(ev.Source)
	}
	if !havePos {
		c.counters.withoutPosition.Add(1)
		metrics.ReaderEventsWithoutPositionTotal.WithLabelValues(c.source).Inc()
	}

	kind := c.classify(ev)
	metrics.ReaderEventsTotal.WithLabelValues(c.source, kind.String()).Inc()

	if !havePos {
		pos, havePos = c.ops.PositionFromValue(ev.Value)
	}

	c.evaluateClose(kind, pos, havePos)
}

func (c *eventConsumer[T]) classify(ev engine.Event) eventKind {
	if len(ev.Value) == 0 {
		c.counters.tombstones.Add(1)
		return kindTombstone
	}
	if c.ops.IsHeartbeat(ev.Value) {
		c.counters.heartbeats.Add(1)
		return kindHeartbeat
	}

	rec, err := c.ops.Deserialize(ev.Key, ev.Value)
	if err != nil {
		// Poison events never abort the run.
		c.counters.discards.Add(1)
		metrics.ReaderDiscardsTotal.WithLabelValues(c.source, "deserialize").Inc()
		c.logger.Debug("discarded undeserializable event", "error", err)
		if c.discards != nil {
			c.discards.Record(c.source, ev.Key, ev.Value, err)
		}
		return kindDiscard
	}

	consumer, ok := c.consumers[rec.Stream]
	if !ok {
		c.counters.discards.Add(1)
		metrics.ReaderDiscardsTotal.WithLabelValues(c.source, "unknown_stream").Inc()
		c.logger.Debug("discarded event for unknown stream", "stream", rec.Stream.String())
		return kindDiscard
	}

	consumer.Accept(*rec)
	c.counters.emitted.Add(1)
	metrics.ReaderRecordsEmittedTotal.WithLabelValues(c.source, rec.Stream.String()).Inc()
	return kindRecord
}

// evaluateClose decides whether this event terminates the run. The decision
// is committed through the fire-once trigger; later events keep being
// processed for counting but never re-trigger shutdown.
func (c *eventConsumer[T]) evaluateClose(kind eventKind, pos T, havePos bool) {
	// A run started from a synthetic seed must finish its initial snapshot
	// uninterrupted: only heartbeats are evaluated for completion.
	if c.synthetic && kind != kindHeartbeat {
		return
	}
	if c.ctx.Err() != nil {
		c.fire(cdc.CloseTimeout)
		return
	}
	if !havePos {
		// Cannot yet evaluate completion for this event.
		return
	}
	if pos.Compare(c.upperBound) < 0 {
		return
	}

	switch kind {
	case kindHeartbeat, kindTombstone:
		c.fire(cdc.CloseHeartbeatOrTombstoneReachedTarget)
	default:
		c.fire(cdc.CloseRecordReachedTarget)
	}
}

func (c *eventConsumer[T]) fire(reason cdc.CloseReason) {
	if c.trigger.Fire(reason) {
		metrics.ReaderClosesTotal.WithLabelValues(c.source, reason.String()).Inc()
		c.logger.Info("requested engine shutdown", "reason", reason.String())
	}
}
