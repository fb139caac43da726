package reader

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/janovincze/iris/internal/cdc"
	"github.com/janovincze/iris/internal/cdc/engine"
	"github.com/janovincze/iris/internal/cdc/slots"
)

// fakeEngine emits a scripted event sequence, then blocks until Close. Like a
// real embedded engine it flushes its offset file on the way out.
type fakeEngine struct {
	cfg       engine.Config
	handler   engine.Handler
	script    func(emit engine.Handler, closed <-chan struct{})
	finalPos  int64
	runErr    error
	closed    chan struct{}
	closeOnce sync.Once
}

func (e *fakeEngine) Run(ctx context.Context) error {
	if e.cfg.Hooks.OnConnectorStart != nil {
		e.cfg.Hooks.OnConnectorStart(e.cfg.Name)
	}

	e.script(e.handler, e.closed)
	<-e.closed

	offset, err := json.Marshal(testPayload{Pos: e.finalPos})
	if err != nil {
		return err
	}
	if err := os.WriteFile(e.cfg.OffsetPath, offset, 0o600); err != nil {
		return err
	}

	if e.cfg.Hooks.OnCompletion != nil {
		e.cfg.Hooks.OnCompletion(e.runErr == nil, "engine halted", e.runErr)
	}
	return e.runErr
}

func (e *fakeEngine) Close() error {
	e.closeOnce.Do(func() { close(e.closed) })
	return nil
}

func (e *fakeEngine) Version() string { return "fake/1.0" }

func fakeFactory(finalPos int64, script func(emit engine.Handler, closed <-chan struct{})) engine.Factory {
	return func(cfg engine.Config, handler engine.Handler) (engine.Engine, error) {
		return &fakeEngine{
			cfg:      cfg,
			handler:  handler,
			script:   script,
			finalPos: finalPos,
			closed:   make(chan struct{}),
		}, nil
	}
}

func newTestReader(t *testing.T, pool *slots.Pool, factory engine.Factory, seed cdc.State, bound seqPos, sink RecordConsumer) *Reader[seqPos] {
	t.Helper()
	return New(
		Config[seqPos]{
			Source:     "test",
			Seed:       seed,
			UpperBound: bound,
			ScratchDir: t.TempDir(),
		},
		pool,
		factory,
		fakeOps{},
		map[cdc.StreamID]RecordConsumer{{Namespace: "public", Name: "users"}: sink},
		nil,
	)
}

func TestReaderRunToCompletion(t *testing.T) {
	factory := fakeFactory(100, func(emit engine.Handler, closed <-chan struct{}) {
		emit(recordEvent(t, "public", "users", 10))
		emit(recordEvent(t, "public", "users", 50))
		emit(recordEvent(t, "public", "users", 100))
		// A trailing heartbeat after the close decision is still counted.
		emit(heartbeatEvent(t, 110))
	})

	pool := slots.NewPool(1)
	sink := &captureConsumer{}
	seed := cdc.State{Offset: json.RawMessage(`{"pos":0}`)}
	r := newTestReader(t, pool, factory, seed, 100, sink)

	ok, err := r.TryAcquireResources()
	if err != nil {
		t.Fatalf("TryAcquireResources() error: %v", err)
	}
	if !ok {
		t.Fatal("TryAcquireResources() = false with an empty pool")
	}
	if got := pool.InUse(); got != 1 {
		t.Fatalf("pool in use = %d after acquire, want 1", got)
	}

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got := r.State(); got != StateHalted {
		t.Fatalf("state after Run = %v, want %v", got, StateHalted)
	}

	if len(sink.records) != 3 {
		t.Errorf("routed %d records, want 3", len(sink.records))
	}
	reason, fired := r.CloseReason()
	if !fired {
		t.Fatal("no close reason recorded")
	}
	if reason != cdc.CloseRecordReachedTarget {
		t.Errorf("close reason = %v, want %v", reason, cdc.CloseRecordReachedTarget)
	}

	cp, err := r.Checkpoint()
	if err != nil {
		t.Fatalf("Checkpoint() error: %v", err)
	}
	if cp.RecordsEmitted != 3 {
		t.Errorf("checkpoint records emitted = %d, want 3", cp.RecordsEmitted)
	}

	var state cdc.State
	if err := json.Unmarshal(cp.State, &state); err != nil {
		t.Fatalf("unmarshal checkpoint state: %v", err)
	}
	if state.Synthetic {
		t.Error("completed checkpoint marked synthetic")
	}
	var offset testPayload
	if err := json.Unmarshal(state.Offset, &offset); err != nil {
		t.Fatalf("unmarshal checkpoint offset: %v", err)
	}
	if offset.Pos != 100 {
		t.Errorf("checkpoint offset position = %d, want 100", offset.Pos)
	}

	if err := r.ReleaseResources(); err != nil {
		t.Fatalf("ReleaseResources() error: %v", err)
	}
	if got := pool.InUse(); got != 0 {
		t.Errorf("pool in use = %d after release, want 0", got)
	}
	if got := r.State(); got != StateUnacquired {
		t.Errorf("state after release = %v, want %v", got, StateUnacquired)
	}
}

func TestReaderCancellation(t *testing.T) {
	factory := fakeFactory(20, func(emit engine.Handler, closed <-chan struct{}) {
		emit(recordEvent(t, "public", "users", 10))
		// Keep the change stream alive with heartbeats below the bound so
		// cancellation has an event to surface on.
		for {
			select {
			case <-closed:
				return
			case <-time.After(time.Millisecond):
				emit(heartbeatEvent(t, 20))
			}
		}
	})

	pool := slots.NewPool(1)
	sink := &captureConsumer{}
	seed := cdc.State{Offset: json.RawMessage(`{"pos":0}`)}
	r := newTestReader(t, pool, factory, seed, 1000, sink)

	if ok, err := r.TryAcquireResources(); err != nil || !ok {
		t.Fatalf("TryAcquireResources() = %v, %v", ok, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- r.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	var runErr error
	select {
	case runErr = <-runDone:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if !errors.Is(runErr, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", runErr)
	}

	reason, fired := r.CloseReason()
	if !fired {
		t.Fatal("no close reason recorded after cancellation")
	}
	if reason != cdc.CloseTimeout {
		t.Errorf("close reason = %v, want %v", reason, cdc.CloseTimeout)
	}

	// The run was interrupted, but its progress is still checkpointable.
	cp, err := r.Checkpoint()
	if err != nil {
		t.Fatalf("Checkpoint() after cancellation error: %v", err)
	}
	if cp.RecordsEmitted != 1 {
		t.Errorf("checkpoint records emitted = %d, want 1", cp.RecordsEmitted)
	}

	if err := r.ReleaseResources(); err != nil {
		t.Fatalf("ReleaseResources() error: %v", err)
	}
}

func TestReaderRetriesWhenPoolExhausted(t *testing.T) {
	pool := slots.NewPool(1)
	held, ok := pool.TryAcquire()
	if !ok {
		t.Fatal("seeding acquire failed on an empty pool")
	}

	seed := cdc.State{Offset: json.RawMessage(`{"pos":0}`)}
	r := newTestReader(t, pool, fakeFactory(0, nil), seed, 100, &captureConsumer{})

	ok, err := r.TryAcquireResources()
	if err != nil {
		t.Fatalf("TryAcquireResources() error on exhausted pool: %v", err)
	}
	if ok {
		t.Fatal("TryAcquireResources() = true on an exhausted pool")
	}
	if got := r.State(); got != StateUnacquired {
		t.Errorf("state after failed acquire = %v, want %v", got, StateUnacquired)
	}

	held.Release()

	if ok, err := r.TryAcquireResources(); err != nil || !ok {
		t.Fatalf("retry TryAcquireResources() = %v, %v, want true, nil", ok, err)
	}
	if err := r.ReleaseResources(); err != nil {
		t.Fatalf("ReleaseResources() error: %v", err)
	}
}

func TestReaderReleaseIsIdempotent(t *testing.T) {
	pool := slots.NewPool(1)
	seed := cdc.State{Offset: json.RawMessage(`{"pos":0}`)}
	r := newTestReader(t, pool, fakeFactory(0, nil), seed, 100, &captureConsumer{})

	// Release with nothing acquired is a no-op.
	if err := r.ReleaseResources(); err != nil {
		t.Fatalf("ReleaseResources() before acquire error: %v", err)
	}

	if ok, err := r.TryAcquireResources(); err != nil || !ok {
		t.Fatalf("TryAcquireResources() = %v, %v", ok, err)
	}

	if err := r.ReleaseResources(); err != nil {
		t.Fatalf("first ReleaseResources() error: %v", err)
	}
	if err := r.ReleaseResources(); err != nil {
		t.Fatalf("second ReleaseResources() error: %v", err)
	}
	if got := pool.InUse(); got != 0 {
		t.Errorf("pool in use = %d after double release, want 0", got)
	}
}

func TestReaderCheckpointRequiresHaltedEngine(t *testing.T) {
	pool := slots.NewPool(1)
	seed := cdc.State{Offset: json.RawMessage(`{"pos":0}`)}
	r := newTestReader(t, pool, fakeFactory(0, nil), seed, 100, &captureConsumer{})

	if _, err := r.Checkpoint(); !errors.Is(err, ErrNotHalted) {
		t.Errorf("Checkpoint() before Run error = %v, want %v", err, ErrNotHalted)
	}
}

func TestReaderSyntheticSeedRunsUntilHeartbeat(t *testing.T) {
	factory := fakeFactory(250, func(emit engine.Handler, closed <-chan struct{}) {
		// Snapshot-phase records past the bound must not end the run.
		emit(recordEvent(t, "public", "users", 200))
		emit(recordEvent(t, "public", "users", 250))
		emit(heartbeatEvent(t, 250))
	})

	pool := slots.NewPool(1)
	sink := &captureConsumer{}
	seed := cdc.State{Offset: json.RawMessage(`{"pos":0}`), Synthetic: true}
	r := newTestReader(t, pool, factory, seed, 100, sink)

	if ok, err := r.TryAcquireResources(); err != nil || !ok {
		t.Fatalf("TryAcquireResources() = %v, %v", ok, err)
	}
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(sink.records) != 2 {
		t.Errorf("routed %d records, want 2", len(sink.records))
	}
	reason, fired := r.CloseReason()
	if !fired {
		t.Fatal("no close reason recorded")
	}
	if reason != cdc.CloseHeartbeatOrTombstoneReachedTarget {
		t.Errorf("close reason = %v, want %v", reason, cdc.CloseHeartbeatOrTombstoneReachedTarget)
	}

	cp, err := r.Checkpoint()
	if err != nil {
		t.Fatalf("Checkpoint() error: %v", err)
	}
	var state cdc.State
	if err := json.Unmarshal(cp.State, &state); err != nil {
		t.Fatalf("unmarshal checkpoint state: %v", err)
	}
	if state.Synthetic {
		t.Error("post-run checkpoint still marked synthetic")
	}

	if err := r.ReleaseResources(); err != nil {
		t.Fatalf("ReleaseResources() error: %v", err)
	}
}
