// Package cache holds the latest reading per sensor (C3), with a TTL
// sweep so a sensor that stops reporting eventually drops out of
// "latest" queries instead of serving stale data forever. Shape follows
// the harvest snapshot's atomic-pointer-swap idea, adapted here to a
// per-key map since the cache has many independent keys (one per
// sensor) rather than one global snapshot.
package cache

import (
	"sync"
	"time"

	"github.com/hydroloop/gateway/internal/domain"
)

// DefaultTTL is how long a cached reading remains "latest" before the
// sweep considers the sensor silent.
const DefaultTTL = 10 * time.Minute

type entry struct {
	reading domain.Reading
	storedAt time.Time
}

// Cache holds the most recent reading per sensor.
type Cache struct {
	mu  sync.RWMutex
	m   map[string]entry
	ttl time.Duration
	now func() time.Time
}

// New creates an empty latest-reading cache with the given TTL (0 means
// DefaultTTL).
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{m: make(map[string]entry), ttl: ttl, now: time.Now}
}

// Put stores r as sensor r.SensorID's latest reading.
func (c *Cache) Put(r domain.Reading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[r.SensorID] = entry{reading: r, storedAt: c.now()}
}

// Get returns the latest reading for sensorID, or false if absent or
// expired past the TTL.
func (c *Cache) Get(sensorID string) (domain.Reading, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.m[sensorID]
	if !ok || c.now().Sub(e.storedAt) > c.ttl {
		return domain.Reading{}, false
	}
	return e.reading, true
}

// All returns a copy of every non-expired latest reading, keyed by
// sensor id.
func (c *Cache) All() map[string]domain.Reading {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now()
	out := make(map[string]domain.Reading, len(c.m))
	for id, e := range c.m {
		if now.Sub(e.storedAt) <= c.ttl {
			out[id] = e.reading
		}
	}
	return out
}

// Sweep removes entries older than the TTL; call periodically from a
// background goroutine to bound memory for sensors that stop reporting.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for id, e := range c.m {
		if now.Sub(e.storedAt) > c.ttl {
			delete(c.m, id)
			removed++
		}
	}
	return removed
}
