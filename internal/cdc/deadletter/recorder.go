package deadletter

import (
	"context"
	"log/slog"
	"time"

	"github.com/janovincze/iris/internal/metrics"
)

// defaultWriteTimeout bounds a DLQ write issued from the event path.
const defaultWriteTimeout = 5 * time.Second

// Recorder adapts a Manager to the reader's discard hook. Writes are best
// effort: a failed write is logged and the event keeps flowing.
type Recorder struct {
	manager Manager
	timeout time.Duration
	logger  *slog.Logger
}

// NewRecorder creates a discard recorder backed by a DLQ manager.
func NewRecorder(manager Manager, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		manager: manager,
		timeout: defaultWriteTimeout,
		logger:  logger.With("component", "dlq-recorder"),
	}
}

// Record writes one discarded event to the dead-letter queue.
func (r *Recorder) Record(source string, key, value []byte, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	event := DiscardedEvent{
		Source:       source,
		Key:          key,
		Value:        value,
		ErrorMessage: cause.Error(),
		CreatedAt:    time.Now(),
	}

	if err := r.manager.Write(ctx, event); err != nil {
		r.logger.Warn("failed to record discarded event", "source", source, "error", err)
		return
	}

	metrics.DeadLetterTotal.WithLabelValues(source).Inc()
}
