package detector

import (
	"fmt"
	"sync"
)

// SharedMemory tracks how many open handles reference each detector id and
// frees the backend's shared state when the last one goes away.
//
// Thread Safety: All methods are safe for concurrent use.
type SharedMemory struct {
	mu    sync.Mutex
	refs  map[int]int
	free  func(id int) error
	freed map[int]int
}

// NewSharedMemory creates a registry that calls free when an id's last
// reference is released.
func NewSharedMemory(free func(id int) error) *SharedMemory {
	return &SharedMemory{
		refs:  make(map[int]int),
		free:  free,
		freed: make(map[int]int),
	}
}

// Acquire adds a reference for id.
func (s *SharedMemory) Acquire(id int) {
	s.mu.Lock()
	s.refs[id]++
	s.mu.Unlock()
}

// Release drops a reference for id, freeing the shared state when it was
// the last. Releasing an id with no references is a no-op.
func (s *SharedMemory) Release(id int) error {
	s.mu.Lock()
	n, ok := s.refs[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if n > 1 {
		s.refs[id] = n - 1
		s.mu.Unlock()
		return nil
	}
	delete(s.refs, id)
	s.freed[id]++
	s.mu.Unlock()

	if s.free == nil {
		return nil
	}
	if err := s.free(id); err != nil {
		return fmt.Errorf("free shared memory %d: %w", id, err)
	}
	return nil
}

// Refs returns the current reference count for id.
func (s *SharedMemory) Refs(id int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs[id]
}

// Freed returns how many times the shared state for id has been freed.
func (s *SharedMemory) Freed(id int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freed[id]
}
