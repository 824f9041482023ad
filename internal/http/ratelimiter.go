package httpapi

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// SlidingWindowLimiter enforces a maximum number of events within a time window.
type SlidingWindowLimiter struct {
	window time.Duration
	limit  int
	clock  clockwork.Clock

	mu     sync.Mutex
	events []time.Time
}

// NewSlidingWindowLimiter constructs a limiter allowing up to limit events per
// window. A non-positive window or limit disables limiting.
func NewSlidingWindowLimiter(window time.Duration, limit int, clock clockwork.Clock) *SlidingWindowLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SlidingWindowLimiter{window: window, limit: limit, clock: clock}
}

// Allow reports whether the caller may proceed under the current rate limits.
func (l *SlidingWindowLimiter) Allow() bool {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	cutoff := now.Add(-l.window)
	//1.- Drop events that slid out of the window, reusing the backing array.
	kept := l.events[:0]
	for _, ts := range l.events {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.events = kept
	if len(l.events) >= l.limit {
		return false
	}
	l.events = append(l.events, now)
	return true
}
