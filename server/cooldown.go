package server

import (
	"sync"
	"time"
)

// A Cooldown limits how often each user may trigger a populate. Every user
// gets one populate per Window; further attempts inside the window are
// refused with the time left to wait. Users are tracked independently.
type Cooldown struct {
	Window time.Duration

	m    sync.Mutex
	last map[string]time.Time
	now  func() time.Time // test hook
}

// NewCooldown returns a Cooldown allowing one populate per window per user.
func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{
		Window: window,
		last:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Allow records an attempt by user. If the user is outside their window the
// attempt is allowed and a new window starts. Otherwise the attempt is
// refused and the remaining wait is returned.
func (c *Cooldown) Allow(user string) (time.Duration, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	now := c.now()
	if prev, ok := c.last[user]; ok {
		wait := c.Window - now.Sub(prev)
		if wait > 0 {
			return wait, false
		}
	}
	c.last[user] = now
	c.sweep(now)
	return 0, true
}

// sweep drops entries whose window has passed, so the map does not grow
// with every user ever seen. Called with the lock held.
func (c *Cooldown) sweep(now time.Time) {
	if len(c.last) < 1024 {
		return
	}
	for user, prev := range c.last {
		if now.Sub(prev) >= c.Window {
			delete(c.last, user)
		}
	}
}
