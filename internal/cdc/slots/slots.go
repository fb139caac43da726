// Package slots provides a bounded admission gate over the execution slots
// shared by concurrent partition readers.
package slots

import (
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/janovincze/iris/internal/metrics"
)

// Pool is a fixed-size pool of reader execution slots. Acquisition never
// blocks: an exhausted pool is a "retry later" signal for the caller, not an
// error. There is no fairness guarantee beyond eventual availability.
type Pool struct {
	sem   *semaphore.Weighted
	size  int64
	inUse atomic.Int64
}

// Slot is a handle to one acquired execution slot. Release must be called
// exactly once per acquired slot; double release or releasing a slot that was
// never acquired is a programming error.
type Slot struct {
	pool *Pool
}

// NewPool creates a pool with the given number of slots.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: int64(size),
	}
	metrics.ReaderSlotsTotal.Set(float64(size))
	return p
}

// TryAcquire attempts to claim a slot without blocking. It returns false
// immediately when the pool is exhausted.
func (p *Pool) TryAcquire() (*Slot, bool) {
	if !p.sem.TryAcquire(1) {
		return nil, false
	}
	metrics.ReaderSlotsInUse.Set(float64(p.inUse.Add(1)))
	return &Slot{pool: p}, true
}

// Release returns the slot to the pool.
func (s *Slot) Release() {
	s.pool.sem.Release(1)
	metrics.ReaderSlotsInUse.Set(float64(s.pool.inUse.Add(-1)))
}

// Size returns the total number of slots in the pool.
func (p *Pool) Size() int64 {
	return p.size
}

// InUse returns the number of currently acquired slots.
func (p *Pool) InUse() int64 {
	return p.inUse.Load()
}
