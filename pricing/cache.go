// Package pricing caches an independent reference price for the quoted
// instrument, fed either by polling or by a streaming feed.
package pricing

import (
	"sync"
	"time"
)

// Quote is a single reference-price reading with its uncertainty band.
type Quote struct {
	Mid        float64
	Confidence float64
	ObservedAt time.Time
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Cache holds the latest reference quote. A reading older than the
// staleness bound is reported as absent: an arbitrarily old price must
// never be treated as current.
type Cache struct {
	mu        sync.RWMutex
	quote     Quote
	populated bool

	stalenessBound time.Duration
	clock          Clock
}

// DefaultStalenessBound is conservative: the upstream oracle updates a few
// times per second, so anything beyond two seconds means the feed is down.
const DefaultStalenessBound = 2 * time.Second

func NewCache(stalenessBound time.Duration) *Cache {
	if stalenessBound <= 0 {
		stalenessBound = DefaultStalenessBound
	}
	return &Cache{
		stalenessBound: stalenessBound,
		clock:          realClock{},
	}
}

// SetClock overrides the clock, for tests.
func (c *Cache) SetClock(clk Clock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clk
}

// Set stores a new reading.
func (c *Cache) Set(q Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if q.ObservedAt.IsZero() {
		q.ObservedAt = c.clock.Now()
	}
	c.quote = q
	c.populated = true
}

// Latest returns the current reading, or ok=false when there is none or
// the last one is stale.
func (c *Cache) Latest() (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.populated {
		return Quote{}, false
	}
	if c.clock.Now().Sub(c.quote.ObservedAt) > c.stalenessBound {
		return Quote{}, false
	}
	return c.quote, true
}
