package common

import (
	"sync"
	"time"
)

// TimeSync estimates the offset between the venue clock and the local clock
// from a request sent at MarkSent and answered with the venue time. Network
// latency is assumed symmetric.
type TimeSync struct {
	mu       sync.RWMutex
	sentAt   time.Time
	offset   time.Duration
	lastSync time.Time
}

// MarkSent records when the latest time request left.
func (ts *TimeSync) MarkSent(at time.Time) {
	ts.mu.Lock()
	ts.sentAt = at
	ts.mu.Unlock()
}

// Observe records a venue time received at recvAt and returns the new
// offset (venue minus local). An answer with no outstanding request is
// measured against recvAt alone.
func (ts *TimeSync) Observe(venue, recvAt time.Time) time.Duration {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	local := recvAt
	if !ts.sentAt.IsZero() && !ts.sentAt.After(recvAt) {
		local = ts.sentAt.Add(recvAt.Sub(ts.sentAt) / 2)
	}
	ts.sentAt = time.Time{}
	ts.offset = venue.Sub(local)
	ts.lastSync = recvAt
	return ts.offset
}

// Offset is the latest venue minus local estimate.
func (ts *TimeSync) Offset() time.Duration {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}

// LastSync is when the latest venue time arrived; zero before the first.
func (ts *TimeSync) LastSync() time.Time {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.lastSync
}

// Now is the local clock shifted onto the venue clock.
func (ts *TimeSync) Now() time.Time {
	return time.Now().Add(ts.Offset())
}

// Reset forgets the estimate, e.g. after reconnecting to another venue.
func (ts *TimeSync) Reset() {
	ts.mu.Lock()
	ts.sentAt, ts.offset, ts.lastSync = time.Time{}, 0, time.Time{}
	ts.mu.Unlock()
}
