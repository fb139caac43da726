package reader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/janovincze/iris/internal/cdc"
	"github.com/janovincze/iris/internal/cdc/engine"
	"github.com/janovincze/iris/internal/cdc/slots"
	"github.com/janovincze/iris/internal/metrics"
)

const (
	offsetFileName        = "offsets.json"
	schemaHistoryFileName = "schema_history.json"
)

// ErrNotHalted is returned by Checkpoint before the engine has halted.
var ErrNotHalted = errors.New("reader: checkpoint requires a halted engine")

// Config holds configuration for one partition read.
type Config[T cdc.Position[T]] struct {
	// Source identifies the source being read, for logging and metrics.
	Source string

	// Seed is the resumption state the engine starts from.
	Seed cdc.State

	// UpperBound is how far in change history to read. An event at or past
	// it counts as "target reached".
	UpperBound T

	// SchemaTracking indicates the connector maintains a schema history
	// alongside its offset.
	SchemaTracking bool

	// ScratchDir is the parent directory for the engine's private scratch
	// area. Empty means the system temp directory.
	ScratchDir string

	// Heartbeat is the engine heartbeat interval (zero leaves the engine's
	// default in place).
	Heartbeat time.Duration

	// Properties holds connector-specific engine properties.
	Properties map[string]string
}

// Reader drives an embedded change-event engine to completion for a bounded
// slice of change history. Lifecycle: TryAcquireResources, Run, Checkpoint,
// ReleaseResources. A Reader is single use.
type Reader[T cdc.Position[T]] struct {
	cfg       Config[T]
	pool      *slots.Pool
	factory   engine.Factory
	ops       Operations[T]
	consumers map[cdc.StreamID]RecordConsumer
	discards  DiscardRecorder
	logger    *slog.Logger

	sm        *stateMachine
	slot      *slots.Slot
	scratch   string
	engineCfg engine.Config
	eng       engine.Engine
	trigger   *closeTrigger
	counters  *counters
}

// New creates a partition reader.
func New[T cdc.Position[T]](
	cfg Config[T],
	pool *slots.Pool,
	factory engine.Factory,
	ops Operations[T],
	consumers map[cdc.StreamID]RecordConsumer,
	logger *slog.Logger,
) *Reader[T] {
	if logger == nil {
		logger = slog.Default()
	}

	return &Reader[T]{
		cfg:       cfg,
		pool:      pool,
		factory:   factory,
		ops:       ops,
		consumers: consumers,
		logger:    logger.With("component", "partition-reader", "source", cfg.Source),
		sm:        newStateMachine(),
		counters:  &counters{},
	}
}

// SetDiscardRecorder installs a best-effort recorder for poison events.
func (r *Reader[T]) SetDiscardRecorder(rec DiscardRecorder) {
	r.discards = rec
}

// State returns the reader's lifecycle state.
func (r *Reader[T]) State() State {
	return r.sm.State()
}

// Counts returns a snapshot of the per-run counters.
func (r *Reader[T]) Counts() Counts {
	return r.counters.snapshot()
}

// CloseReason returns the recorded close reason, if any.
func (r *Reader[T]) CloseReason() (cdc.CloseReason, bool) {
	if r.trigger == nil {
		return 0, false
	}
	return r.trigger.Reason()
}

// TryAcquireResources claims an execution slot and provisions the engine's
// private scratch area. It never blocks: (false, nil) means the shared pool
// is exhausted and the caller should retry later.
func (r *Reader[T]) TryAcquireResources() (bool, error) {
	slot, ok := r.pool.TryAcquire()
	if !ok {
		return false, nil
	}

	scratch, err := os.MkdirTemp(r.cfg.ScratchDir, "iris-reader-*")
	if err != nil {
		slot.Release()
		return false, fmt.Errorf("provision scratch area: %w", err)
	}

	if err := r.sm.Transition(StateAcquired); err != nil {
		slot.Release()
		_ = os.RemoveAll(scratch)
		return false, err
	}

	r.slot = slot
	r.scratch = scratch
	return true, nil
}

// Run seeds the engine with the prior offset and schema state, starts it on
// its own goroutine and blocks until it halts. Cancellation of ctx does not
// kill the engine: it is observed by the event consumer, which records a
// timeout close and winds the engine down through the same shutdown path.
// Any engine-side error, including one derived from cancellation, is captured
// exactly once and returned after the run summary is logged.
func (r *Reader[T]) Run(ctx context.Context) error {
	if err := r.sm.Transition(StateRunning); err != nil {
		return err
	}
	defer func() { _ = r.sm.Transition(StateHalted) }()

	start := time.Now()

	engineCfg, err := r.buildEngineConfig()
	if err != nil {
		return err
	}
	r.engineCfg = engineCfg

	r.trigger = newCloseTrigger(func() {
		if err := r.eng.Close(); err != nil {
			r.logger.Warn("engine close request failed", "error", err)
		}
	})

	consumer := &eventConsumer[T]{
		ctx:        ctx,
		source:     r.cfg.Source,
		ops:        r.ops,
		consumers:  r.consumers,
		upperBound: r.cfg.UpperBound,
		synthetic:  r.cfg.Seed.Synthetic,
		counters:   r.counters,
		trigger:    r.trigger,
		discards:   r.discards,
		logger:     r.logger,
	}

	eng, err := r.factory(engineCfg, consumer.Accept)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	r.eng = eng

	r.logger.Info("starting change event engine",
		"engine_version", eng.Version(),
		"synthetic_seed", r.cfg.Seed.Synthetic,
	)

	// The engine runs on its own execution context and must not halt just
	// because the caller's context is cancelled.
	done := make(chan error, 1)
	go func() {
		done <- eng.Run(context.WithoutCancel(ctx))
	}()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		// Signal only; the engine winds down through the event-driven
		// shutdown path and the wait ends when it has.
		runErr = <-done
	}
	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}

	r.logSummary(eng.Version(), runErr)
	metrics.ReaderRunDuration.WithLabelValues(r.cfg.Source).Observe(time.Since(start).Seconds())

	if runErr != nil {
		return fmt.Errorf("engine run: %w", runErr)
	}
	return nil
}

// Checkpoint reads back the engine-updated offset and schema state and
// serializes it into a resumable checkpoint. It must only be called after
// Run has returned.
func (r *Reader[T]) Checkpoint() (cdc.PartitionReadCheckpoint, error) {
	if r.sm.State() != StateHalted {
		return cdc.PartitionReadCheckpoint{}, ErrNotHalted
	}

	offset, err := os.ReadFile(r.engineCfg.OffsetPath)
	if err != nil {
		return cdc.PartitionReadCheckpoint{}, fmt.Errorf("read engine offset: %w", err)
	}

	state := cdc.State{Offset: offset}
	if r.engineCfg.SchemaHistoryPath != "" {
		history, err := os.ReadFile(r.engineCfg.SchemaHistoryPath)
		if err != nil {
			return cdc.PartitionReadCheckpoint{}, fmt.Errorf("read schema history: %w", err)
		}
		state.SchemaHistory = history
	}

	blob, err := r.ops.SerializeState(state)
	if err != nil {
		return cdc.PartitionReadCheckpoint{}, err
	}

	return cdc.PartitionReadCheckpoint{
		State:          blob,
		RecordsEmitted: r.counters.emitted.Load(),
	}, nil
}

// ReleaseResources tears down the scratch area and returns the slot to the
// pool. It is safe to call when nothing was acquired, and after Run failed
// or was never invoked.
func (r *Reader[T]) ReleaseResources() error {
	var scratchErr error
	if r.scratch != "" {
		scratchErr = os.RemoveAll(r.scratch)
		r.scratch = ""
	}
	if r.slot != nil {
		r.slot.Release()
		r.slot = nil
	}
	if r.sm.State() != StateUnacquired {
		_ = r.sm.Transition(StateUnacquired)
	}

	if scratchErr != nil {
		return fmt.Errorf("tear down scratch area: %w", scratchErr)
	}
	return nil
}

func (r *Reader[T]) buildEngineConfig() (engine.Config, error) {
	offsetPath := filepath.Join(r.scratch, offsetFileName)
	if err := os.WriteFile(offsetPath, r.cfg.Seed.Offset, 0o600); err != nil {
		return engine.Config{}, fmt.Errorf("write seed offset: %w", err)
	}

	schemaPath := ""
	if r.cfg.SchemaTracking {
		schemaPath = filepath.Join(r.scratch, schemaHistoryFileName)
		if err := os.WriteFile(schemaPath, r.cfg.Seed.SchemaHistory, 0o600); err != nil {
			return engine.Config{}, fmt.Errorf("write seed schema history: %w", err)
		}
	}

	return engine.Config{
		Name:              r.cfg.Source,
		OffsetPath:        offsetPath,
		SchemaHistoryPath: schemaPath,
		Heartbeat:         r.cfg.Heartbeat,
		Properties:        r.cfg.Properties,
		Hooks: engine.Hooks{
			OnConnectorStart: func(name string) {
				r.logger.Info("connector started", "connector", name)
			},
			OnCompletion: func(success bool, message string, err error) {
				if err != nil {
					r.logger.Warn("engine completed", "success", success, "message", message, "error", err)
					return
				}
				r.logger.Info("engine completed", "success", success, "message", message)
			},
		},
	}, nil
}

// logSummary logs the structured run summary, omitting absent fields.
func (r *Reader[T]) logSummary(version string, runErr error) {
	counts := r.counters.snapshot()
	args := []any{
		"engine_version", version,
		"events", counts.Events,
		"records_emitted", counts.Emitted,
		"heartbeats", counts.Heartbeats,
		"tombstones", counts.Tombstones,
		"discards", counts.Discards,
		"events_without_position", counts.WithoutPosition,
	}
	if reason, ok := r.trigger.Reason(); ok {
		args = append(args, "close_reason", reason.String())
	}
	if runErr != nil {
		args = append(args, "error", runErr)
	}
	r.logger.Info("change event engine halted", args...)
}
