package alerts

import (
	"sync"
	"time"
)

// Cooldown remembers when each identity last raised an alert.
type Cooldown struct {
	mu   sync.Mutex
	last map[int64]time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{last: make(map[int64]time.Time)}
}

// Allow reports whether identityID may alert at now and records the attempt when it may.
func (c *Cooldown) Allow(identityID int64, now time.Time, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[identityID]; ok && now.Sub(ts) < cooldown {
		return false
	}
	c.last[identityID] = now
	if len(c.last) > 10000 {
		c.compact(now, cooldown)
	}
	return true
}

// Forget drops the identity, e.g. once it has been archived.
func (c *Cooldown) Forget(identityID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.last, identityID)
}

func (c *Cooldown) compact(now time.Time, cooldown time.Duration) {
	for id, ts := range c.last {
		if now.Sub(ts) >= cooldown {
			delete(c.last, id)
		}
	}
}
