package deadletter

import (
	"context"
	"log/slog"
	"time"
)

// Cleaner periodically removes expired entries from the dead-letter queue.
// Without it, stamped expirations would never be enforced and the queue
// would grow unboundedly.
type Cleaner struct {
	manager  Manager
	interval time.Duration
	logger   *slog.Logger
}

// NewCleaner creates a cleaner that sweeps expired DLQ entries every
// interval.
func NewCleaner(manager Manager, interval time.Duration, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{
		manager:  manager,
		interval: interval,
		logger:   logger.With("component", "dlq-cleaner"),
	}
}

// Run sweeps once immediately, then on every interval tick until ctx ends.
// Short-lived workers still get the startup sweep even when no tick fires.
func (c *Cleaner) Run(ctx context.Context) {
	c.sweep(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *Cleaner) sweep(ctx context.Context) {
	deleted, err := c.manager.Cleanup(ctx)
	if err != nil {
		c.logger.Error("DLQ cleanup failed", "error", err)
		return
	}
	if deleted > 0 {
		c.logger.Info("DLQ cleanup completed", "deleted", deleted)
	}
}
