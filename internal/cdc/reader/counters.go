package reader

import "sync/atomic"

// counters are the per-run event tallies. They are written from the engine's
// callback goroutine and read at shutdown; each is individually monotonic.
type counters struct {
	events          atomic.Int64
	emitted         atomic.Int64
	heartbeats      atomic.Int64
	tombstones      atomic.Int64
	discards        atomic.Int64
	withoutPosition atomic.Int64
}

// Counts is a point-in-time snapshot of the per-run counters.
type Counts struct {
	// Events is the number of raw events delivered by the engine.
	Events int64

	// Emitted is the number of records routed to stream consumers.
	Emitted int64

	// Heartbeats is the number of heartbeat events.
	Heartbeats int64

	// Tombstones is the number of tombstone events.
	Tombstones int64

	// Discards is the number of events dropped by deserialization or
	// unknown-stream filtering.
	Discards int64

	// WithoutPosition is the number of events carrying no source position
	// metadata.
	WithoutPosition int64
}

func (c *counters) snapshot() Counts {
	return Counts{
		Events:          c.events.Load(),
		Emitted:         c.emitted.Load(),
		Heartbeats:      c.heartbeats.Load(),
		Tombstones:      c.tombstones.Load(),
		Discards:        c.discards.Load(),
		WithoutPosition: c.withoutPosition.Load(),
	}
}
