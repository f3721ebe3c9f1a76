package infra

import (
	"sync"
	"time"

	"github.com/peva0411/focusgate/internal/domain"
)

// SystemClock implements domain.Clock from the real wall clock.
type SystemClock struct{}

// NewSystemClock creates a system clock.
func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// ManualClock is a settable clock for deterministic tests. Safe for
// concurrent use.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a manual clock starting at the given instant.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the clock's current instant.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to a specific instant (backwards jumps allowed, the
// engine must tolerate clock changes).
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

var _ domain.Clock = (*SystemClock)(nil)
var _ domain.Clock = (*ManualClock)(nil)
