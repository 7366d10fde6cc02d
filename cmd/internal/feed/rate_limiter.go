package feed

import "time"

// controlLimiter caps the control messages (hello, filter) one admin connection
// may send per window. It is owned by the connection's read loop and is not safe
// for concurrent use.
type controlLimiter struct {
	window time.Duration
	// stamps is a ring of the last len(stamps) admitted messages; next is the oldest.
	stamps []time.Time
	next   int
}

func newControlLimiter(limit int, window time.Duration) *controlLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &controlLimiter{window: window, stamps: make([]time.Time, limit)}
}

// allow admits a message at now, or reports how long until the oldest admitted
// message leaves the window.
func (l *controlLimiter) allow(now time.Time) (bool, time.Duration) {
	oldest := l.stamps[l.next]
	if !oldest.IsZero() {
		if age := now.Sub(oldest); age < l.window {
			return false, l.window - age
		}
	}
	l.stamps[l.next] = now
	l.next = (l.next + 1) % len(l.stamps)
	return true, 0
}
