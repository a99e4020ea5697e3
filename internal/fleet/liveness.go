// ABOUTME: Sliding-window presence tracking for registered agents.
// ABOUTME: Liveness is derived at read time; no background timers run.

package fleet

import (
	"sync"
	"time"
)

// DefaultLivenessWindow is the maximum silence before an agent is presumed
// offline.
const DefaultLivenessWindow = 2 * time.Minute

// LivenessTracker records per-agent last-seen timestamps and derives
// online/offline from a fixed timeout window on every read.
type LivenessTracker struct {
	mu       sync.RWMutex
	lastSeen map[string]time.Time
	window   time.Duration
	now      func() time.Time
}

// NewLivenessTracker creates a tracker with the given window. A zero
// window falls back to the default.
func NewLivenessTracker(window time.Duration) *LivenessTracker {
	if window <= 0 {
		window = DefaultLivenessWindow
	}
	return &LivenessTracker{
		lastSeen: make(map[string]time.Time),
		window:   window,
		now:      time.Now,
	}
}

// Touch records activity for the agent, resetting its silence window.
func (t *LivenessTracker) Touch(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSeen[id] = t.now()
}

// LastSeen returns the most recent activity timestamp for the agent.
func (t *LivenessTracker) LastSeen(id string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ts, ok := t.lastSeen[id]
	return ts, ok
}

// IsLive reports whether the agent has been seen within the window.
// Unknown agents are not live.
func (t *LivenessTracker) IsLive(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ts, ok := t.lastSeen[id]
	if !ok {
		return false
	}
	return t.now().Sub(ts) <= t.window
}

// Forget drops tracking state for a removed agent.
func (t *LivenessTracker) Forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastSeen, id)
}
