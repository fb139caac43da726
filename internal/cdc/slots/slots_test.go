package slots

import (
	"sync"
	"testing"
)

func TestPool_TryAcquire(t *testing.T) {
	pool := NewPool(2)

	s1, ok := pool.TryAcquire()
	if !ok {
		t.Fatal("expected first acquire to succeed")
	}
	s2, ok := pool.TryAcquire()
	if !ok {
		t.Fatal("expected second acquire to succeed")
	}

	if _, ok := pool.TryAcquire(); ok {
		t.Fatal("expected acquire on exhausted pool to fail")
	}
	if got := pool.InUse(); got != 2 {
		t.Errorf("InUse() = %d, want 2", got)
	}

	s1.Release()
	if _, ok := pool.TryAcquire(); !ok {
		t.Fatal("expected acquire after release to succeed")
	}

	s2.Release()
}

func TestPool_MinimumSize(t *testing.T) {
	pool := NewPool(0)
	if pool.Size() != 1 {
		t.Errorf("Size() = %d, want 1", pool.Size())
	}
}

func TestPool_ConcurrentAcquire(t *testing.T) {
	const size = 4
	const attempts = 64

	pool := NewPool(size)

	var mu sync.Mutex
	var acquired []*Slot

	var wg sync.WaitGroup
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s, ok := pool.TryAcquire(); ok {
				mu.Lock()
				acquired = append(acquired, s)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(acquired) != size {
		t.Fatalf("acquired %d slots, want %d", len(acquired), size)
	}
	if got := pool.InUse(); got != size {
		t.Errorf("InUse() = %d, want %d", got, size)
	}

	for _, s := range acquired {
		s.Release()
	}
	if got := pool.InUse(); got != 0 {
		t.Errorf("InUse() after release = %d, want 0", got)
	}
}
