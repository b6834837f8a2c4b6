package scheduler

import (
	"sync"
	"time"
)

type entry struct {
	timer *time.Timer
	seq   uint64
}

// Scheduler runs one pending callback per key. Scheduling a key again
// replaces the previous callback; a replaced or cancelled callback never runs.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]entry
	seq     uint64
	stopped bool
}

func New() *Scheduler {
	return &Scheduler{entries: make(map[string]entry)}
}

// Schedule runs fn on its own goroutine after d.
func (s *Scheduler) Schedule(key string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if prev, ok := s.entries[key]; ok {
		prev.timer.Stop()
	}

	s.seq++
	seq := s.seq
	s.entries[key] = entry{
		seq: seq,
		timer: time.AfterFunc(d, func() {
			if s.claim(key, seq) {
				fn()
			}
		}),
	}
}

// claim removes the entry if it is still the one that fired.
func (s *Scheduler) claim(key string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.seq != seq {
		return false
	}
	delete(s.entries, key)
	return true
}

// Cancel reports whether a pending callback was removed.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.entries, key)
	return true
}

func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop cancels everything and rejects new callbacks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for key, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, key)
	}
}
