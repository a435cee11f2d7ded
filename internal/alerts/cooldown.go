package alerts

import (
	"strings"
	"sync"
	"time"

	"faceguard/internal/model"
)

// Cooldown limits how often an unchanged alert is re-sent to notifiers.
type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{
		last: make(map[string]time.Time),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (c *Cooldown) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Allow reports whether an alert may be re-sent and, if so, starts a new
// cooldown period for it.
func (c *Cooldown) Allow(a model.Alert, cooldown time.Duration) bool {
	return c.AllowKey(activeKey(a.SessionID, a.Type), cooldown)
}

func (c *Cooldown) AllowKey(key string, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if ts, ok := c.last[key]; ok {
		if now.Sub(ts) < cooldown {
			return false
		}
	}
	c.last[key] = now
	return true
}

// Forget drops every key for a finished session.
func (c *Cooldown) Forget(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := sessionID + "|"
	for k := range c.last {
		if strings.HasPrefix(k, prefix) {
			delete(c.last, k)
		}
	}
}
