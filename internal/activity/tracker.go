// Package activity tracks per-client liveness for the realtime fabric:
// the last time each connected client's endpoint observed any frame from
// it. It is the per-ClientId bookkeeping the Connection Service Actor
// and Activity service share:
// the Connection Service Actor records liveness on every Connection
// frame, the handshake included, and the Activity service reads it to answer presence
// queries without owning its own timestamp map.
package activity

import (
	"sync"
	"time"

	"github.com/fasttravel/realtime/internal/ids"
)

// Tracker is a concurrent-safe map of ClientId to its last-seen instant.
// Keyed by the full ClientId (sequence plus cospace), not just the
// sequence number, so one Tracker can be shared node-wide across
// multiple cospaces without sequence numbers from different cospaces
// colliding (a Shared service pool's ActivityService does exactly that).
type Tracker struct {
	mu       sync.RWMutex
	lastSeen map[ids.ClientID]time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{lastSeen: make(map[ids.ClientID]time.Time)}
}

// Touch records client as having been seen just now.
func (t *Tracker) Touch(client ids.ClientID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSeen[client] = time.Now()
}

// LastSeen returns client's last recorded liveness instant, if any.
func (t *Tracker) LastSeen(client ids.ClientID) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ts, ok := t.lastSeen[client]
	return ts, ok
}

// Idle reports whether client has not been seen within maxAge, or was
// never seen at all.
func (t *Tracker) Idle(client ids.ClientID, maxAge time.Duration) bool {
	ts, ok := t.LastSeen(client)
	if !ok {
		return true
	}
	return time.Since(ts) > maxAge
}

// Forget removes a disconnected client's liveness entry.
func (t *Tracker) Forget(client ids.ClientID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastSeen, client)
}

// Snapshot returns every tracked client and its last-seen instant, for
// diagnostics and the Activity service's bulk presence queries.
func (t *Tracker) Snapshot() map[ids.ClientID]time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[ids.ClientID]time.Time, len(t.lastSeen))
	for k, v := range t.lastSeen {
		out[k] = v
	}
	return out
}
