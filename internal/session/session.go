// Package session tracks the process-wide current session.
//
// The tracker hands out immutable snapshots: producers and the serial
// processor never share mutable session state. A session moves Open to
// Closed exactly once; session ids are never reused.
package session

import "sync"

// Status is the lifecycle state of a persisted session row.
type Status int

const (
	StatusOpen   Status = 1
	StatusClosed Status = 2
)

// Snapshot is an immutable view of a session at a point in time.
type Snapshot struct {
	ID             string
	MpID           int64
	StartTime      int64 // unix milliseconds
	LastEventTime  int64
	ForegroundTime int64 // accumulated foreground milliseconds
}

// Tracker owns the current session identity.
//
// Thread-safety: all methods are safe for concurrent use. Readers get a
// copy of the current snapshot, never a reference to shared state.
type Tracker struct {
	mu      sync.RWMutex
	current Snapshot
	active  bool
}

// NewTracker creates a tracker with no active session.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Begin starts a new session and returns its snapshot.
// Any previously active session is simply replaced; ending it is the
// caller's responsibility (via a session-end command).
func (t *Tracker) Begin(id string, mpID, startTime int64) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = Snapshot{
		ID:            id,
		MpID:          mpID,
		StartTime:     startTime,
		LastEventTime: startTime,
	}
	t.active = true
	return t.current
}

// Snapshot returns the current session, if any.
func (t *Tracker) Snapshot() (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current, t.active
}

// Touch records event activity, advancing the last-event time.
// Earlier timestamps are ignored so out-of-order producers cannot move the
// session backwards.
func (t *Tracker) Touch(eventTime int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active && eventTime > t.current.LastEventTime {
		t.current.LastEventTime = eventTime
	}
}

// AddForeground accumulates foreground time in milliseconds.
func (t *Tracker) AddForeground(d int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active && d > 0 {
		t.current.ForegroundTime += d
	}
}

// End clears the current session and returns its final snapshot.
// Returns false if no session was active.
func (t *Tracker) End() (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return Snapshot{}, false
	}
	final := t.current
	t.current = Snapshot{}
	t.active = false
	return final, true
}
