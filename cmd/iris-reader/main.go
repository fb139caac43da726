// Package main provides the entry point for the iris reader worker. The
// worker performs one bounded partition read: it tails the source database's
// change stream up to a target position, delivers the captured records to the
// destination, and persists a resumable checkpoint.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/janovincze/iris/internal/cdc"
	"github.com/janovincze/iris/internal/cdc/checkpoint"
	"github.com/janovincze/iris/internal/cdc/deadletter"
	enginepg "github.com/janovincze/iris/internal/cdc/engine/postgres"
	"github.com/janovincze/iris/internal/cdc/health"
	"github.com/janovincze/iris/internal/cdc/reader"
	"github.com/janovincze/iris/internal/cdc/sink"
	"github.com/janovincze/iris/internal/cdc/slots"
	"github.com/janovincze/iris/internal/config"
	"github.com/janovincze/iris/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting iris reader worker",
		"environment", cfg.Environment,
		"source_host", cfg.Source.Host,
		"source_database", cfg.Source.Database,
		"replication_slot", cfg.Source.SlotName,
	)

	streams, err := parseStreams(cfg.Source.Tables)
	if err != nil {
		return err
	}

	metrics.Register()

	// Metrics endpoint
	if cfg.Metrics.Enabled {
		metricsSrv := &http.Server{
			Addr:    cfg.Metrics.ListenAddr,
			Handler: promhttp.Handler(),
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer metricsSrv.Shutdown(context.Background())
	}

	// Metadata database, shared by the DLQ and health checks
	db, err := sql.Open("pgx", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open metadata database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping metadata database: %w", err)
	}

	pool := slots.NewPool(cfg.Reader.Slots)

	// Health endpoints
	if cfg.Health.Enabled {
		healthMgr := health.NewManager(health.DefaultManagerConfig(), logger)
		healthMgr.Register(health.NewDatabaseChecker("metadata-db", db.PingContext))
		healthMgr.Register(health.NewSlotPoolChecker(pool))

		healthSrv := health.NewServer(healthMgr, health.ServerConfig{
			ListenAddr:   cfg.Health.ListenAddr,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}, logger)
		go func() {
			if err := healthSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("health server failed", "error", err)
			}
		}()
		defer healthSrv.Stop(context.Background())
	}

	// Checkpoint manager
	var checkpointMgr checkpoint.Manager
	if cfg.Checkpoint.Enabled {
		checkpointMgr, err = checkpoint.NewPostgresManager(ctx, checkpoint.PostgresConfig{
			DSN:          cfg.Database.DSN(),
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
		}, logger)
		if err != nil {
			return fmt.Errorf("create checkpoint manager: %w", err)
		}
		defer checkpointMgr.Close()
	}

	// Destination sink
	recordSink, err := sink.NewPostgresSink(ctx, sink.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	}, logger)
	if err != nil {
		return fmt.Errorf("create record sink: %w", err)
	}
	defer recordSink.Close()

	source := fmt.Sprintf("postgres-%s", cfg.Source.Database)
	partition := cfg.Source.SlotName

	// Resume from the last checkpoint, or fabricate a seed for first runs.
	seed := enginepg.SyntheticState()
	if checkpointMgr != nil {
		prior, err := checkpointMgr.Load(ctx, source, partition)
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		if prior != nil {
			if err := json.Unmarshal(prior.State, &seed); err != nil {
				return fmt.Errorf("decode checkpoint state: %w", err)
			}
			logger.Info("resuming from checkpoint", "records_emitted_previously", prior.RecordsEmitted)
		} else {
			logger.Info("no prior checkpoint, starting from a synthetic seed")
		}
	}

	// The upper bound is the source's current WAL position at launch.
	upperBound, err := enginepg.CurrentLSN(ctx, cfg.Source.URL())
	if err != nil {
		return fmt.Errorf("resolve target position: %w", err)
	}
	logger.Info("resolved target position", "lsn", upperBound.String(), "synthetic_seed", seed.Synthetic)

	// One batcher per captured stream
	batchCfg := sink.BatchConfig{
		MaxRecords:           cfg.Sink.MaxBatchRecords,
		RetryMaxAttempts:     cfg.Sink.Retry.MaxAttempts,
		RetryInitialInterval: cfg.Sink.Retry.InitialInterval,
		RetryMaxInterval:     cfg.Sink.Retry.MaxInterval,
		RetryMultiplier:      cfg.Sink.Retry.Multiplier,
	}
	batchers := make(map[cdc.StreamID]*sink.Batcher, len(streams))
	consumers := make(map[cdc.StreamID]reader.RecordConsumer, len(streams))
	for _, stream := range streams {
		b := sink.NewBatcher(ctx, recordSink, stream, batchCfg, logger)
		batchers[stream] = b
		consumers[stream] = b
	}

	factory := enginepg.NewFactory(enginepg.Config{
		Name:            source,
		ConnectionURL:   cfg.Source.URL(),
		SlotName:        cfg.Source.SlotName,
		PublicationName: cfg.Source.PublicationName,
		Tables:          cfg.Source.Tables,
		Heartbeat:       cfg.Reader.Heartbeat,
	}, logger)

	r := reader.New(reader.Config[cdc.LSN]{
		Source:     source,
		Seed:       seed,
		UpperBound: upperBound,
		ScratchDir: cfg.Reader.ScratchDir,
		Heartbeat:  cfg.Reader.Heartbeat,
	}, pool, factory, enginepg.NewOperations(), consumers, logger)

	if cfg.DeadLetter.Enabled {
		dlq := deadletter.NewPostgresManager(db, deadletter.PostgresConfig{
			Retention: cfg.DeadLetter.Retention,
		}, logger)
		r.SetDiscardRecorder(deadletter.NewRecorder(dlq, logger))

		// Sweep expired DLQ entries for the lifetime of the run.
		cleaner := deadletter.NewCleaner(dlq, cfg.DeadLetter.CleanupInterval, logger)
		go cleaner.Run(ctx)
	}

	// Admission: wait for a free execution slot.
	if err := acquireWithRetry(ctx, r, cfg.Reader.AdmissionRetryInterval, logger); err != nil {
		return err
	}
	defer func() {
		if err := r.ReleaseResources(); err != nil {
			logger.Warn("failed to release reader resources", "error", err)
		}
	}()

	runCtx := ctx
	if cfg.Reader.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.Reader.RunTimeout)
		defer cancel()
	}

	runErr := r.Run(runCtx)
	if runErr != nil {
		logger.Warn("partition read ended with an error", "error", runErr)
	}

	// Drain the batchers and checkpoint whatever progress the engine made,
	// interrupted runs included.
	flushCtx, cancelFlush := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelFlush()
	for stream, b := range batchers {
		if err := b.Flush(flushCtx); err != nil {
			return fmt.Errorf("drain batcher for %s: %w", stream.String(), err)
		}
	}

	cp, err := r.Checkpoint()
	if err != nil {
		return fmt.Errorf("build checkpoint: %w", err)
	}
	if checkpointMgr != nil {
		if err := checkpointMgr.Save(flushCtx, source, partition, cp); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
	}

	logger.Info("partition read complete", "records_emitted", cp.RecordsEmitted)

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	return nil
}

// acquireWithRetry polls the slot pool until a slot frees up or ctx ends.
func acquireWithRetry(ctx context.Context, r *reader.Reader[cdc.LSN], interval time.Duration, logger *slog.Logger) error {
	for {
		ok, err := r.TryAcquireResources()
		if err != nil {
			return fmt.Errorf("acquire reader resources: %w", err)
		}
		if ok {
			return nil
		}

		logger.Info("all execution slots in use, retrying", "retry_in", interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// parseStreams maps "schema.table" entries to stream identities. Entries
// without a schema default to public.
func parseStreams(tables []string) ([]cdc.StreamID, error) {
	if len(tables) == 0 {
		return nil, errors.New("source.tables must list the captured tables")
	}

	streams := make([]cdc.StreamID, 0, len(tables))
	for _, t := range tables {
		namespace, name, found := strings.Cut(t, ".")
		if !found {
			namespace, name = "public", t
		}
		if name == "" || namespace == "" {
			return nil, fmt.Errorf("invalid table %q", t)
		}
		streams = append(streams, cdc.StreamID{Namespace: namespace, Name: name})
	}
	return streams, nil
}
