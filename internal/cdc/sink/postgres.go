package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver

	"github.com/janovincze/iris/internal/cdc"
	"github.com/janovincze/iris/internal/metrics"
)

// optimalBatchBytes is the accumulated payload size the insert path handles
// best; larger batches win nothing and hold transactions open longer.
const optimalBatchBytes int64 = 16 * 1024 * 1024

// PostgresSink writes change records into a PostgreSQL destination table.
type PostgresSink struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresSink creates a new PostgreSQL record sink.
func NewPostgresSink(ctx context.Context, cfg Config, logger *slog.Logger) (*PostgresSink, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	// Verify connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresSink{
		db:     db,
		logger: logger.With("component", "postgres-sink"),
	}, nil
}

// Flush writes one batch of records inside a single transaction.
func (s *PostgresSink) Flush(ctx context.Context, stream cdc.StreamID, records []cdc.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		metrics.SinkBatchesTotal.WithLabelValues(stream.String(), "error").Inc()
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO iris.change_records (
			record_id, stream_namespace, stream_name, operation,
			before_data, after_data, event_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		metrics.SinkBatchesTotal.WithLabelValues(stream.String(), "error").Inc()
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		beforeJSON, err := marshalNullable(rec.Before)
		if err != nil {
			metrics.SinkBatchesTotal.WithLabelValues(stream.String(), "error").Inc()
			return fmt.Errorf("marshal before data: %w", err)
		}
		afterJSON, err := marshalNullable(rec.After)
		if err != nil {
			metrics.SinkBatchesTotal.WithLabelValues(stream.String(), "error").Inc()
			return fmt.Errorf("marshal after data: %w", err)
		}

		eventTime := rec.Timestamp
		if eventTime.IsZero() {
			eventTime = time.Now()
		}

		_, err = stmt.ExecContext(ctx,
			rec.ID,
			stream.Namespace,
			stream.Name,
			string(rec.Operation),
			beforeJSON,
			afterJSON,
			eventTime,
		)
		if err != nil {
			metrics.SinkBatchesTotal.WithLabelValues(stream.String(), "error").Inc()
			return fmt.Errorf("insert record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.SinkBatchesTotal.WithLabelValues(stream.String(), "error").Inc()
		return fmt.Errorf("commit transaction: %w", err)
	}

	metrics.SinkBatchesTotal.WithLabelValues(stream.String(), "success").Inc()
	metrics.SinkRecordsWrittenTotal.WithLabelValues(stream.String()).Add(float64(len(records)))
	s.logger.Debug("batch flushed", "stream", stream.String(), "count", len(records))

	return nil
}

// OptimalBatchBytes returns the preferred flush size for this sink.
func (s *PostgresSink) OptimalBatchBytes() int64 {
	return optimalBatchBytes
}

// Close closes the database connection.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

// marshalNullable maps an absent row image to SQL NULL.
func marshalNullable(data map[string]any) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	return json.Marshal(data)
}

// Ensure PostgresSink implements Sink interface.
var _ Sink = (*PostgresSink)(nil)
