package detect

import "time"

// Cooldowns remembers when each detector id last fired. It is keyed by id,
// so a detector re-created with the same id inherits its cooldown.
type Cooldowns struct {
	last map[string]time.Time
}

// NewCooldowns creates an empty table.
func NewCooldowns() *Cooldowns {
	return &Cooldowns{last: make(map[string]time.Time)}
}

// Ready reports whether id may fire at now given its cooldown.
func (c *Cooldowns) Ready(id string, now time.Time, cooldown time.Duration) bool {
	t, ok := c.last[id]
	if !ok {
		return true
	}
	return now.Sub(t) >= cooldown
}

// Record marks id as fired at now.
func (c *Cooldowns) Record(id string, now time.Time) {
	c.last[id] = now
}

// LastFired returns when id last fired.
func (c *Cooldowns) LastFired(id string) (time.Time, bool) {
	t, ok := c.last[id]
	return t, ok
}

// Reset forgets every timestamp.
func (c *Cooldowns) Reset() {
	c.last = make(map[string]time.Time)
}
