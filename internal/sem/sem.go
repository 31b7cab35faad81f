// Package sem provides the counting semaphore used to hand work between the
// audio callback, the render goroutine and the driving goroutine.
package sem

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Semaphore is a counting semaphore with a fixed capacity. Posting beyond the
// capacity is a programming error and panics.
type Semaphore struct {
	w        *semaphore.Weighted
	capacity int64
}

// New returns a semaphore holding initial permits out of capacity.
func New(initial, capacity int) *Semaphore {
	if capacity < 1 {
		capacity = 1
	}
	if initial > capacity {
		capacity = initial
	}
	if initial < 0 {
		initial = 0
	}
	s := &Semaphore{
		w:        semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
	}
	if held := int64(capacity - initial); held > 0 {
		s.w.TryAcquire(held)
	}
	return s
}

// Post releases one permit.
func (s *Semaphore) Post() {
	s.w.Release(1)
}

// Wait blocks until a permit is available.
func (s *Semaphore) Wait() {
	_ = s.w.Acquire(context.Background(), 1)
}

// WaitContext blocks until a permit is available or ctx is done.
func (s *Semaphore) WaitContext(ctx context.Context) error {
	return s.w.Acquire(ctx, 1)
}

// TryWait takes a permit without blocking and reports whether it got one.
func (s *Semaphore) TryWait() bool {
	return s.w.TryAcquire(1)
}

func (s *Semaphore) Capacity() int {
	return int(s.capacity)
}
