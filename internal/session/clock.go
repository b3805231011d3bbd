package session

import (
	"sync"
	"time"
)

// Clock tracks a session against two independent limits: a duration budget
// measured from startedAt, and an optional absolute end wall-clock. Remaining
// time is always derived from startedAt, so a session resumed after a reload
// or network drop never gains time. The expiry callback fires at most once.
type Clock struct {
	startedAt time.Time
	duration  time.Duration
	endAt     *time.Time
	now       func() time.Time
	onExpire  func()

	mu      sync.Mutex
	expired bool
	stop    chan struct{}
	stopped bool
}

func NewClock(startedAt time.Time, durationSeconds int64, endAt *time.Time, onExpire func()) *Clock {
	return &Clock{
		startedAt: startedAt,
		duration:  time.Duration(durationSeconds) * time.Second,
		endAt:     endAt,
		now:       time.Now,
		onExpire:  onExpire,
		stop:      make(chan struct{}),
	}
}

// Remaining is the smaller of the duration budget and the distance to the
// absolute end time, clamped to zero.
func (c *Clock) Remaining() time.Duration {
	now := c.now()
	remaining := c.duration - now.Sub(c.startedAt)
	if c.endAt != nil {
		if wall := c.endAt.Sub(now); wall < remaining {
			remaining = wall
		}
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (c *Clock) RemainingSeconds() int64 {
	return int64(c.Remaining().Seconds())
}

// Tick checks both limits and fires the expiry callback on the first tick
// where either is exhausted. Returns true once expired.
func (c *Clock) Tick() bool {
	c.mu.Lock()
	if c.expired {
		c.mu.Unlock()
		return true
	}
	if c.Remaining() > 0 {
		c.mu.Unlock()
		return false
	}
	c.expired = true
	cb := c.onExpire
	c.mu.Unlock()

	if cb != nil {
		cb()
	}
	return true
}

// Run ticks once per second until expiry or Stop. Meant to be launched as a
// goroutine by the session manager; the countdown is never paused by UI
// activity or failed submit attempts.
func (c *Clock) Run() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if c.Tick() {
				return
			}
		}
	}
}

// Stop halts ticking without firing expiry. Idempotent.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.stop)
}

func (c *Clock) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}

// Elapsed reports wall-clock time spent since the recorded start.
func (c *Clock) Elapsed() time.Duration {
	d := c.now().Sub(c.startedAt)
	if d < 0 {
		return 0
	}
	return d
}
