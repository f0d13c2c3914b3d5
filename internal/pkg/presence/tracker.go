// Package presence turns acknowledgement traffic into a device liveness signal.
package presence

import (
	"sync"
	"time"
)

const DefaultWindow = 12 * time.Second

// Tracker remembers when the controller last acknowledged anything.
type Tracker struct {
	now func() time.Time

	mu      sync.Mutex
	lastAck time.Time
}

func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now}
}

// RecordAck marks the controller as heard from now.
func (t *Tracker) RecordAck() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastAck = t.now()
}

// Forget drops the last acknowledgement so the device reads as not alive until the next one.
func (t *Tracker) Forget() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastAck = time.Time{}
}

func (t *Tracker) LastAck() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastAck, !t.lastAck.IsZero()
}

// IsDeviceAlive reports whether the last acknowledgement is at most window old.
func (t *Tracker) IsDeviceAlive(window time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastAck.IsZero() {
		return false
	}
	return t.now().Sub(t.lastAck) <= window
}
