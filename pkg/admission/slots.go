package admission

import (
	"context"
	"sync"

	"github.com/vnykmshr/multiproc/pkg/common/errors"
)

// Slots is a counting semaphore with a fixed capacity.
type Slots struct {
	mu        sync.Mutex
	capacity  int
	available int
	waiters   []slotWaiter
}

type slotWaiter struct {
	ready chan struct{}
}

// NewSlots creates a semaphore with capacity free slots.
func NewSlots(capacity int) (*Slots, error) {
	if capacity <= 0 {
		return nil, errors.NewValidationError("admission", "capacity", capacity, "capacity must be positive").
			WithHint("capacity bounds how many tasks may run at once")
	}
	return &Slots{capacity: capacity, available: capacity}, nil
}

// TryAcquire takes a slot if one is free.
func (s *Slots) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.available > 0 {
		s.available--
		return true
	}
	return false
}

// Acquire blocks until a slot is free or ctx is done.
func (s *Slots) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.available > 0 {
		s.available--
		s.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	s.waiters = append(s.waiters, slotWaiter{ready: ready})
	s.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		if !s.removeWaiter(ready) {
			// Granted while cancelling; hand it back.
			s.Release()
		}
		return ctx.Err()
	}
}

// Release frees a slot. It panics if no slot is held.
func (s *Slots) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.available >= s.capacity {
		panic("admission: released more slots than acquired")
	}

	if len(s.waiters) > 0 {
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(w.ready)
		return
	}
	s.available++
}

// Available returns the number of free slots.
func (s *Slots) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

// Capacity returns the total number of slots.
func (s *Slots) Capacity() int {
	return s.capacity
}

// InUse returns the number of held slots.
func (s *Slots) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity - s.available
}

// removeWaiter drops the waiter for ready and reports whether it was
// still waiting.
func (s *Slots) removeWaiter(ready chan struct{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.waiters {
		if w.ready == ready {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return true
		}
	}
	return false
}
