package pipeline

import (
	"sync"
	"time"
)

// inflightSet is a bounded set of keys currently being processed. A released
// key stays reserved for a grace period so a burst of duplicate change events
// collapses into one run.
type inflightSet struct {
	mu       sync.Mutex
	keys     map[string]*time.Timer
	capacity int
	grace    time.Duration
	closed   bool
}

func newInflightSet(capacity int, grace time.Duration) *inflightSet {
	if capacity <= 0 {
		capacity = 1024
	}
	return &inflightSet{
		keys:     make(map[string]*time.Timer),
		capacity: capacity,
		grace:    grace,
	}
}

// TryAcquire reserves key. It fails when the key is held or the set is full.
func (s *inflightSet) TryAcquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if _, held := s.keys[key]; held {
		return false
	}
	if len(s.keys) >= s.capacity {
		return false
	}
	s.keys[key] = nil
	return true
}

// Release frees key after the grace period.
func (s *inflightSet) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.keys[key]; !held {
		return
	}
	if s.grace <= 0 {
		delete(s.keys, key)
		return
	}
	s.keys[key] = time.AfterFunc(s.grace, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.keys, key)
	})
}

func (s *inflightSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// Close stops pending release timers and rejects further acquisitions.
func (s *inflightSet) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for key, timer := range s.keys {
		if timer != nil {
			timer.Stop()
		}
		delete(s.keys, key)
	}
}
