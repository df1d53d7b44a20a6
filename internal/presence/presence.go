package presence

import "time"

// Status is derived, never stored: it is a pure function of the elapsed
// time since a user was last seen.
type Status string

const (
	StatusActive  Status = "active"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

const (
	activeWindow = 10 * time.Second
	awayWindow   = 30 * time.Second
)

// Tracker maps user ids to last-seen timestamps. An explicit disconnect
// removes the entry entirely: a removed user reads as offline until a fresh
// presence update arrives. Not safe for concurrent use; the store actor is
// the only caller.
type Tracker struct {
	lastSeen map[string]time.Time
	now      func() time.Time
}

func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{lastSeen: make(map[string]time.Time), now: now}
}

func (t *Tracker) RecordSeen(userID string, seen time.Time) {
	t.lastSeen[userID] = seen
}

// MarkDisconnected forces offline by deleting the record.
func (t *Tracker) MarkDisconnected(userID string) {
	delete(t.lastSeen, userID)
}

func (t *Tracker) StatusOf(userID string) Status {
	seen, ok := t.lastSeen[userID]
	if !ok {
		return StatusOffline
	}
	elapsed := t.now().Sub(seen)
	switch {
	case elapsed < activeWindow:
		return StatusActive
	case elapsed < awayWindow:
		return StatusAway
	default:
		return StatusOffline
	}
}

// LastSeen exposes the raw timestamp, ok=false for unknown users.
func (t *Tracker) LastSeen(userID string) (time.Time, bool) {
	seen, ok := t.lastSeen[userID]
	return seen, ok
}

// Statuses returns the derived status of every tracked user.
func (t *Tracker) Statuses() map[string]Status {
	out := make(map[string]Status, len(t.lastSeen))
	for id := range t.lastSeen {
		out[id] = t.StatusOf(id)
	}
	return out
}

func (t *Tracker) Reset() {
	t.lastSeen = make(map[string]time.Time)
}
