package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/janovincze/iris/internal/cdc"
)

// CurrentLSN reports the server's current WAL write position. Callers use it
// to pick the upper bound for a partition read.
func CurrentLSN(ctx context.Context, connectionURL string) (cdc.LSN, error) {
	conn, err := pgx.Connect(ctx, connectionURL)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	defer conn.Close(ctx)

	var raw string
	if err := conn.QueryRow(ctx, "SELECT pg_current_wal_lsn()::text").Scan(&raw); err != nil {
		return 0, fmt.Errorf("query current wal lsn: %w", err)
	}
	return cdc.ParseLSN(raw)
}
