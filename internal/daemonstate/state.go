// Package daemonstate holds the mutable state one daemon run shares between
// the ingest watcher and the cache scanner. It is passed to both explicitly
// so several daemons can run side by side in one test process.
package daemonstate

import (
	"sync"
	"sync/atomic"
	"time"
)

// State tracks shutdown, in-flight uploads, debounce timestamps, and
// validation failures for one daemon run.
type State struct {
	pid      int
	shutdown atomic.Bool

	mu       sync.Mutex
	orgID    string
	inFlight map[string]struct{}
	debounce map[string]time.Time
	failures map[string]validationFailures
}

type validationFailures struct {
	modTime time.Time
	count   int
}

// New returns an empty state for the process pid.
func New(pid int) *State {
	return &State{
		pid:      pid,
		inFlight: make(map[string]struct{}),
		debounce: make(map[string]time.Time),
		failures: make(map[string]validationFailures),
	}
}

// PID returns the daemon's process id.
func (s *State) PID() int {
	return s.pid
}

// ShuttingDown reports whether new copies and uploads must be refused.
func (s *State) ShuttingDown() bool {
	return s.shutdown.Load()
}

// BeginShutdown sets the shutdown flag. It returns false if it was already set.
func (s *State) BeginShutdown() bool {
	return s.shutdown.CompareAndSwap(false, true)
}

// OrgID returns the selected upload destination.
func (s *State) OrgID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orgID
}

// SetOrgID records the selected upload destination.
func (s *State) SetOrgID(orgID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgID = orgID
}

// Debounce reports whether an event for path at now should be processed, and
// records now as the path's last processed time when it should. Events closer
// than window to the previous processed event are dropped.
func (s *State) Debounce(path string, now time.Time, window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.debounce[path]; ok && now.Sub(last) < window {
		return false
	}
	s.debounce[path] = now
	return true
}

// WindowRemaining returns how long after now the debounce window of path
// stays open, or zero when it is already closed.
func (s *State) WindowRemaining(path string, now time.Time, window time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.debounce[path]
	if !ok {
		return 0
	}
	return max(last.Add(window).Sub(now), 0)
}

// TryBeginUpload marks path as in flight. It returns false when an upload for
// path is already running or the daemon is shutting down.
func (s *State) TryBeginUpload(path string) bool {
	if s.ShuttingDown() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[path]; busy {
		return false
	}
	s.inFlight[path] = struct{}{}
	return true
}

// EndUpload clears path from the in-flight set.
func (s *State) EndUpload(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, path)
}

// InFlight reports the number of uploads currently running.
func (s *State) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// RecordValidationFailure counts one more failed attempt for the file content
// identified by path and modTime and returns the running total. A new modTime
// restarts the count.
func (s *State) RecordValidationFailure(path string, modTime time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.failures[path]
	if !entry.modTime.Equal(modTime) {
		entry = validationFailures{modTime: modTime}
	}
	entry.count++
	s.failures[path] = entry
	return entry.count
}

// ClearValidationFailures forgets the failure history of path.
func (s *State) ClearValidationFailures(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, path)
}

// Quarantined reports whether path has failed validation at least limit times
// without being modified since. A limit of zero disables quarantine.
func (s *State) Quarantined(path string, modTime time.Time, limit int) bool {
	if limit <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.failures[path]
	return ok && entry.modTime.Equal(modTime) && entry.count >= limit
}

// Reset clears the debounce map, in-flight set, and failure history.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.inFlight)
	clear(s.debounce)
	clear(s.failures)
}
