package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver

	"github.com/janovincze/iris/internal/cdc"
	"github.com/janovincze/iris/internal/metrics"
)

// PostgresManager implements checkpoint persistence using PostgreSQL.
type PostgresManager struct {
	db     *sql.DB
	logger *slog.Logger
}

// PostgresConfig holds configuration for the PostgreSQL checkpoint manager.
type PostgresConfig struct {
	// DSN is the PostgreSQL connection string.
	DSN string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// ConnMaxLifetime is the maximum lifetime of a connection.
	ConnMaxLifetime time.Duration
}

// NewPostgresManager creates a new PostgreSQL checkpoint manager.
func NewPostgresManager(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*PostgresManager, error) {
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
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	// Verify connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresManager{
		db:     db,
		logger: logger.With("component", "checkpoint-manager"),
	}, nil
}

// Save persists a partition checkpoint to the database.
func (m *PostgresManager) Save(ctx context.Context, source, partition string, cp cdc.PartitionReadCheckpoint) error {
	query := `
		INSERT INTO iris.partition_checkpoints (source, partition, state, records_emitted, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source, partition)
		DO UPDATE SET
			state = EXCLUDED.state,
			records_emitted = EXCLUDED.records_emitted,
			updated_at = EXCLUDED.updated_at
	`

	_, err := m.db.ExecContext(ctx, query,
		source,
		partition,
		[]byte(cp.State),
		cp.RecordsEmitted,
		time.Now(),
	)
	if err != nil {
		metrics.CheckpointSavesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("save checkpoint: %w", err)
	}

	metrics.CheckpointSavesTotal.WithLabelValues("success").Inc()
	m.logger.Debug("checkpoint saved",
		"source", source,
		"partition", partition,
		"records_emitted", cp.RecordsEmitted,
	)

	return nil
}

// Load retrieves the latest checkpoint for a partition.
func (m *PostgresManager) Load(ctx context.Context, source, partition string) (*cdc.PartitionReadCheckpoint, error) {
	query := `
		SELECT state, records_emitted
		FROM iris.partition_checkpoints
		WHERE source = $1 AND partition = $2
	`

	var cp cdc.PartitionReadCheckpoint
	var state []byte

	err := m.db.QueryRowContext(ctx, query, source, partition).Scan(&state, &cp.RecordsEmitted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // No checkpoint found
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	cp.State = state

	m.logger.Debug("checkpoint loaded",
		"source", source,
		"partition", partition,
		"records_emitted", cp.RecordsEmitted,
	)

	return &cp, nil
}

// Close closes the database connection.
func (m *PostgresManager) Close() error {
	return m.db.Close()
}

// Ensure PostgresManager implements Manager interface.
var _ Manager = (*PostgresManager)(nil)
