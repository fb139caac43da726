package deadletter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// PostgresManager implements Manager using PostgreSQL.
type PostgresManager struct {
	db        *sql.DB
	logger    *slog.Logger
	retention time.Duration
}

// PostgresConfig holds configuration for the PostgreSQL DLQ manager.
type PostgresConfig struct {
	// Retention is how long to keep entries in the DLQ.
	Retention time.Duration
}

// DefaultPostgresConfig returns a PostgresConfig with sensible defaults.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Retention: 7 * 24 * time.Hour, // 7 days
	}
}

// NewPostgresManager creates a new PostgreSQL-backed DLQ manager.
func NewPostgresManager(db *sql.DB, cfg PostgresConfig, logger *slog.Logger) *PostgresManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresManager{
		db:        db,
		logger:    logger.With("component", "dlq-manager"),
		retention: cfg.Retention,
	}
}

// Write adds a discarded event to the dead-letter queue.
func (m *PostgresManager) Write(ctx context.Context, event DiscardedEvent) error {
	query := `
		INSERT INTO iris.dead_letter_events (
			source, key_data, value_data, error_message, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	expiresAt := event.ExpiresAt
	if expiresAt == nil && m.retention > 0 {
		t := createdAt.Add(m.retention)
		expiresAt = &t
	}

	var id int64
	err := m.db.QueryRowContext(ctx, query,
		event.Source,
		event.Key,
		event.Value,
		event.ErrorMessage,
		createdAt,
		expiresAt,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert dead letter event: %w", err)
	}

	m.logger.Debug("event added to DLQ",
		"id", id,
		"source", event.Source,
	)

	return nil
}

// Cleanup removes expired entries from the dead-letter queue.
func (m *PostgresManager) Cleanup(ctx context.Context) (int64, error) {
	query := `DELETE FROM iris.dead_letter_events WHERE expires_at IS NOT NULL AND expires_at < NOW()`

	result, err := m.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("cleanup dead letter events: %w", err)
	}

	rowsDeleted, _ := result.RowsAffected()
	if rowsDeleted > 0 {
		m.logger.Info("cleaned up expired DLQ entries", "deleted", rowsDeleted)
	}

	return rowsDeleted, nil
}

// Close releases the manager. The shared database handle stays open for its
// owner to close.
func (m *PostgresManager) Close() error {
	return nil
}

// Ensure PostgresManager implements Manager interface.
var _ Manager = (*PostgresManager)(nil)
