package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/xataio/pgstream/pkg/wal"
	"github.com/xataio/pgstream/pkg/wal/listener"
	pglistener "github.com/xataio/pgstream/pkg/wal/listener/postgres"
	pgreplication "github.com/xataio/pgstream/pkg/wal/replication/postgres"

	"github.com/janovincze/iris/internal/cdc/engine"
)

const version = "pgstream/v0.9"

// payload is the value encoding of events emitted by this engine. The
// matching Operations decode it back into records.
type payload struct {
	Action    string         `json:"action,omitempty"`
	Schema    string         `json:"schema,omitempty"`
	Table     string         `json:"table,omitempty"`
	LSN       string         `json:"lsn"`
	Timestamp time.Time      `json:"timestamp,omitzero"`
	Before    map[string]any `json:"before,omitempty"`
	After     map[string]any `json:"after,omitempty"`
	Heartbeat bool           `json:"heartbeat,omitempty"`
}

// offsetFile is the on-disk offset format shared with SerializeState.
type offsetFile struct {
	LSN string `json:"lsn"`
}

// Engine streams WAL changes from PostgreSQL through pgstream and delivers
// them as raw events to the handler registered at construction. It implements
// engine.Engine.
type Engine struct {
	cfg       Config
	engineCfg engine.Config
	onEvent   engine.Handler
	logger    *slog.Logger

	listener listener.Listener
	cancel   context.CancelFunc

	mu        sync.Mutex
	lastLSN   wal.CommitPosition
	closeOnce sync.Once
}

// NewFactory returns an engine.Factory producing pgstream engines for the
// given source configuration.
func NewFactory(cfg Config, logger *slog.Logger) engine.Factory {
	return func(engineCfg engine.Config, onEvent engine.Handler) (engine.Engine, error) {
		return New(cfg, engineCfg, onEvent, logger)
	}
}

// New creates a pgstream engine.
func New(cfg Config, engineCfg engine.Config, onEvent engine.Handler, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if engineCfg.Heartbeat == 0 {
		engineCfg.Heartbeat = cfg.Heartbeat
	}

	return &Engine{
		cfg:       cfg,
		engineCfg: engineCfg,
		onEvent:   onEvent,
		logger:    logger.With("component", "postgres-engine", "source", cfg.Name),
	}, nil
}

// Version reports the engine implementation and version.
func (e *Engine) Version() string {
	return version
}

// Run begins streaming WAL changes and blocks until the engine halts.
// The updated offset is flushed to the configured offset file before Run
// returns, whatever the outcome.
func (e *Engine) Run(ctx context.Context) error {
	ctx, e.cancel = context.WithCancel(ctx)
	defer e.cancel()
	defer e.flushOffset()

	if seed, err := e.readSeedOffset(); err != nil {
		e.logger.Warn("could not read seed offset, starting from slot position", "error", err)
	} else if seed != "" {
		e.mu.Lock()
		e.lastLSN = wal.CommitPosition(seed)
		e.mu.Unlock()
		e.logger.Info("seeded engine offset", "lsn", seed)
	}

	handlerCfg := pgreplication.Config{
		PostgresURL:         e.cfg.ConnectionURL,
		ReplicationSlotName: e.cfg.SlotName,
		IncludeTables:       e.cfg.Tables,
	}

	handler, err := pgreplication.NewHandler(ctx, handlerCfg)
	if err != nil {
		e.completed(false, "replication handler setup failed", err)
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	defer handler.Close()

	e.listener = pglistener.New(handler, e.processWALEvent)

	if e.engineCfg.Heartbeat > 0 {
		go e.heartbeatLoop(ctx)
	}

	if e.engineCfg.Hooks.OnConnectorStart != nil {
		e.engineCfg.Hooks.OnConnectorStart(e.cfg.Name)
	}
	e.logger.Info("connected to PostgreSQL, starting replication",
		"slot", e.cfg.SlotName,
		"publication", e.cfg.PublicationName,
	)

	// Listen blocks until the context is cancelled or replication fails.
	if err := e.listener.Listen(ctx); err != nil && ctx.Err() == nil {
		e.completed(false, "replication failed", err)
		return fmt.Errorf("%w: %v", ErrReplicationFailed, err)
	}

	e.completed(true, "engine halted", nil)
	return nil
}

// Close requests an orderly shutdown. Safe to call more than once.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		if e.listener != nil {
			err = e.listener.Close()
		}
		if e.cancel != nil {
			e.cancel()
		}
	})
	return err
}

func (e *Engine) completed(success bool, message string, err error) {
	if e.engineCfg.Hooks.OnCompletion != nil {
		e.engineCfg.Hooks.OnCompletion(success, message, err)
	}
}

func (e *Engine) processWALEvent(ctx context.Context, event *wal.Event) error {
	if event == nil {
		return nil
	}

	e.mu.Lock()
	e.lastLSN = event.CommitPosition
	e.mu.Unlock()

	// Keepalive events carry no data, only an advanced position. They are
	// surfaced as heartbeats so the reader can evaluate completion on them.
	if event.Data == nil {
		e.emitHeartbeat(string(event.CommitPosition))
		return nil
	}

	converted, err := e.convertEvent(event)
	if err != nil {
		// Conversion failures are logged and skipped, never fatal.
		e.logger.Warn("failed to convert WAL event", "error", err)
		return nil
	}
	e.onEvent(converted)
	return nil
}

func (e *Engine) convertEvent(event *wal.Event) (engine.Event, error) {
	data := event.Data

	ts, err := data.GetTimestamp()
	if err != nil {
		ts = time.Now()
	}

	p := payload{
		Action:    data.Action,
		Schema:    data.Schema,
		Table:     data.Table,
		LSN:       data.LSN,
		Timestamp: ts,
	}
	switch data.Action {
	case "I":
		p.After = columnsToMap(data.Columns)
	case "U":
		p.Before = columnsToMap(data.Identity)
		p.After = columnsToMap(data.Columns)
	case "D":
		p.Before = columnsToMap(data.Identity)
	}

	value, err := json.Marshal(p)
	if err != nil {
		return engine.Event{}, fmt.Errorf("encode value payload: %w", err)
	}

	var key []byte
	if identity := columnsToMap(data.Identity); identity != nil {
		key, _ = json.Marshal(identity)
	}

	return engine.Event{
		Key:   key,
		Value: value,
		Source: map[string]any{
			"lsn": data.LSN,
		},
	}, nil
}

func (e *Engine) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(e.engineCfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			lsn := string(e.lastLSN)
			e.mu.Unlock()
			if lsn != "" {
				e.emitHeartbeat(lsn)
			}
		}
	}
}

func (e *Engine) emitHeartbeat(lsn string) {
	value, err := json.Marshal(payload{LSN: lsn, Heartbeat: true})
	if err != nil {
		return
	}
	e.onEvent(engine.Event{
		Value:  value,
		Source: map[string]any{"lsn": lsn},
	})
}

func (e *Engine) readSeedOffset() (string, error) {
	if e.engineCfg.OffsetPath == "" {
		return "", nil
	}
	raw, err := os.ReadFile(e.engineCfg.OffsetPath)
	if err != nil {
		return "", err
	}
	if len(raw) == 0 {
		return "", nil
	}
	var off offsetFile
	if err := json.Unmarshal(raw, &off); err != nil {
		return "", fmt.Errorf("decode offset file: %w", err)
	}
	return off.LSN, nil
}

func (e *Engine) flushOffset() {
	if e.engineCfg.OffsetPath == "" {
		return
	}
	e.mu.Lock()
	lsn := string(e.lastLSN)
	e.mu.Unlock()
	if lsn == "" {
		return
	}

	raw, err := json.Marshal(offsetFile{LSN: lsn})
	if err != nil {
		return
	}
	if err := os.WriteFile(e.engineCfg.OffsetPath, raw, 0o600); err != nil {
		e.logger.Error("failed to flush offset file", "error", err, "lsn", lsn)
		return
	}
	e.logger.Debug("flushed offset file", "lsn", lsn)
}

func columnsToMap(columns []wal.Column) map[string]any {
	if len(columns) == 0 {
		return nil
	}
	result := make(map[string]any, len(columns))
	for _, col := range columns {
		result[col.Name] = col.Value
	}
	return result
}

// Ensure Engine implements the engine contract.
var _ engine.Engine = (*Engine)(nil)
