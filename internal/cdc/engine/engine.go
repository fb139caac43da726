// Package engine defines the contract for the embedded change-event engine
// driven by a partition reader. The engine is an opaque, continuously
// streaming push source: it delivers raw events through a handler registered
// at construction, on its own execution goroutine, until it is closed.
package engine

import (
	"context"
	"time"
)

// Event is a single raw change event delivered by the engine. Key and Value
// are the connector's wire encoding; Source carries the event's source-record
// metadata and is nil when the event has none.
type Event struct {
	Key    []byte
	Value  []byte
	Source map[string]any
}

// Handler is the per-event callback registered with the engine. It is invoked
// on the engine's own goroutine, never the caller's.
type Handler func(Event)

// Hooks are the lifecycle callbacks registered with the engine.
type Hooks struct {
	// OnConnectorStart is invoked once when the connector begins streaming.
	OnConnectorStart func(name string)

	// OnCompletion is invoked once when the engine halts, with the terminal
	// outcome. err is nil on an orderly shutdown.
	OnCompletion func(success bool, message string, err error)
}

// Config holds the engine configuration built by the supervising reader.
type Config struct {
	// Name identifies the source for logging and metrics.
	Name string

	// OffsetPath is the file the engine reads its seed offset from at start
	// and persists its updated offset to before halting.
	OffsetPath string

	// SchemaHistoryPath is the schema history file, used only by
	// schema-tracking connectors. Empty when the connector tracks none.
	SchemaHistoryPath string

	// Heartbeat is the interval at which the engine emits heartbeat events
	// when no data is flowing.
	Heartbeat time.Duration

	// Properties holds connector-specific engine properties.
	Properties map[string]string

	// Hooks are the lifecycle callbacks.
	Hooks Hooks
}

// Engine is the embedded change-event engine.
type Engine interface {
	// Run starts streaming and blocks until the engine halts or fails.
	// CDC streams are unbounded: without a Close call, Run only returns
	// on engine failure or cancellation of its own context.
	Run(ctx context.Context) error

	// Close requests an orderly shutdown. It is safe to call more than once
	// and must not be called from the engine's own event callback.
	Close() error

	// Version reports the engine implementation and version for logging.
	Version() string
}

// Factory builds an engine from its configuration and per-event handler.
type Factory func(cfg Config, onEvent Handler) (Engine, error)
