package session

import "time"

// slidingWindowLimiter enforces RATE_LIMIT_FRAMES_PER_MIN as
// a true sliding window rather than a fixed calendar-minute bucket, so
// the "60 frames in 59s accepted, 61st dropped" boundary case holds regardless of where the window happens to start.
type slidingWindowLimiter struct {
	limit  int
	window time.Duration
	events []time.Time
}

func newSlidingWindowLimiter(limit int, window time.Duration) *slidingWindowLimiter {
	return &slidingWindowLimiter{limit: limit, window: window}
}

// Allow reports whether one more frame may be admitted at t, recording
// it if so.
func (l *slidingWindowLimiter) Allow(t time.Time) bool {
	cutoff := t.Add(-l.window)

	kept := l.events[:0]
	for _, e := range l.events {
		if e.After(cutoff) {
			kept = append(kept, e)
		}
	}
	l.events = kept

	if len(l.events) >= l.limit {
		return false
	}
	l.events = append(l.events, t)
	return true
}
