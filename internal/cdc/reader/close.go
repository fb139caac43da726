package reader

import (
	"sync/atomic"

	"github.com/janovincze/iris/internal/cdc"
)

// closeTrigger is the race-safe, fire-once record of why the engine was asked
// to stop. Event callbacks and the cancellation path may race on it; the
// compare-and-swap on the reason cell is the only synchronization point.
type closeTrigger struct {
	reason atomic.Pointer[cdc.CloseReason]
	stop   func()
}

func newCloseTrigger(stop func()) *closeTrigger {
	return &closeTrigger{stop: stop}
}

// Fire commits the close reason. Only the first call wins; it requests engine
// shutdown on a fresh goroutine, since shutdown must never be invoked from
// the engine's own callback goroutine. Later calls are no-ops and return false.
func (t *closeTrigger) Fire(reason cdc.CloseReason) bool {
	r := reason
	if !t.reason.CompareAndSwap(nil, &r) {
		return false
	}
	go t.stop()
	return true
}

// Reason returns the committed close reason, if any.
func (t *closeTrigger) Reason() (cdc.CloseReason, bool) {
	r := t.reason.Load()
	if r == nil {
		return 0, false
	}
	return *r, true
}
