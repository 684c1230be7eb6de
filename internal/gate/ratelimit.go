package gate

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// RateLimiter enforces fixed per-minute and per-hour message windows.
// Windows reset exactly at their boundary (absolute timestamp comparison,
// no sliding): a burst straddling a boundary can briefly exceed the
// steady-state rate. A limit of zero disables that window.
type RateLimiter struct {
	mu    sync.Mutex
	clock clockwork.Clock

	perMinute int
	perHour   int

	minuteCount int
	hourCount   int
	minuteReset time.Time
	hourReset   time.Time
}

func NewRateLimiter(perMinute, perHour int, clock clockwork.Clock) *RateLimiter {
	return &RateLimiter{
		clock:     clock,
		perMinute: perMinute,
		perHour:   perHour,
	}
}

// Allow reports whether one more message fits in the current windows.
// Counters advance only for allowed messages; denials are free.
func (l *RateLimiter) Allow() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if !now.Before(l.minuteReset) {
		l.minuteCount = 0
		l.minuteReset = now.Add(time.Minute)
	}
	if !now.Before(l.hourReset) {
		l.hourCount = 0
		l.hourReset = now.Add(time.Hour)
	}

	if l.perMinute > 0 && l.minuteCount >= l.perMinute {
		return false, fmt.Sprintf("rate limit exceeded: %d messages per minute", l.perMinute)
	}
	if l.perHour > 0 && l.hourCount >= l.perHour {
		return false, fmt.Sprintf("rate limit exceeded: %d messages per hour", l.perHour)
	}

	l.minuteCount++
	l.hourCount++
	return true, ""
}
