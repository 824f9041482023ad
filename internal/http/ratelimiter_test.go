package httpapi

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestSlidingWindowLimiter(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	limiter := NewSlidingWindowLimiter(time.Minute, 2, clock)

	if !limiter.Allow() || !limiter.Allow() {
		t.Fatal("expected first two calls to be allowed")
	}
	if limiter.Allow() {
		t.Fatal("expected third call to be denied")
	}

	clock.Advance(30 * time.Second)
	if limiter.Allow() {
		t.Fatal("expected call within window to still be denied")
	}

	clock.Advance(31 * time.Second)
	if !limiter.Allow() {
		t.Fatal("expected limiter to permit call after window passes")
	}
}

func TestSlidingWindowLimiterDisabled(t *testing.T) {
	if !NewSlidingWindowLimiter(0, 0, nil).Allow() {
		t.Fatal("limiter with zero configuration should allow")
	}
	var limiter *SlidingWindowLimiter
	if !limiter.Allow() {
		t.Fatal("nil limiter should allow")
	}
}
