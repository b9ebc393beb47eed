package engine

import (
	"sync"
	"time"
)

// RunState owns the global run switch and the per-symbol sync throttle
// timestamps. Both are process-local and reset on restart; running more
// than one scheduler instance against the same database is a deployment
// constraint this object does not enforce.
type RunState struct {
	mu       sync.Mutex
	running  bool
	lastSync map[string]time.Time
}

// NewRunState creates a RunState with the given initial run switch value.
func NewRunState(running bool) *RunState {
	return &RunState{
		running:  running,
		lastSync: make(map[string]time.Time),
	}
}

// Running reports the current run switch value.
func (s *RunState) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SetRunning forces the run switch and returns the new value.
func (s *RunState) SetRunning(v bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = v
	return s.running
}

// Toggle flips the run switch and returns the new value.
func (s *RunState) Toggle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = !s.running
	return s.running
}

// ShouldSync reports whether enough time has passed since the last
// successful indicator sync for symbol.
func (s *RunState) ShouldSync(symbol string, now time.Time, minInterval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastSync[symbol]
	if !ok {
		return true
	}
	return now.Sub(last) >= minInterval
}

// MarkSynced records a successful indicator sync for symbol.
func (s *RunState) MarkSynced(symbol string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync[symbol] = t
}
