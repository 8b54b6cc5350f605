package security

import (
	"sync"
	"time"
)

// windowCounter counts observations per key inside a rolling window. Counts
// are process-local and reset on restart; the durable record of what happened
// lives in the security event table.
type windowCounter struct {
	window time.Duration

	mu    sync.Mutex
	hits  map[string][]time.Time
}

func newWindowCounter(window time.Duration) *windowCounter {
	return &windowCounter{
		window: window,
		hits:   map[string][]time.Time{},
	}
}

// Observe records one hit for key and returns the count inside the window,
// including this hit.
func (c *windowCounter) Observe(key string) int {
	now := time.Now()
	cutoff := now.Add(-c.window)

	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.hits[key][:0]
	for _, t := range c.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	c.hits[key] = kept
	return len(kept)
}

// Reset clears the window for key, used after an alert fires so the same
// burst does not re-trigger on every subsequent hit.
func (c *windowCounter) Reset(key string) {
	c.mu.Lock()
	delete(c.hits, key)
	c.mu.Unlock()
}

// Sweep drops keys whose hits have all aged out of the window and returns how
// many were removed. Without it, one map key would linger for every (user,
// connection) pair ever observed.
func (c *windowCounter) Sweep() int {
	cutoff := time.Now().Add(-c.window)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, hits := range c.hits {
		live := false
		for _, t := range hits {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(c.hits, key)
			removed++
		}
	}
	return removed
}

// cumulativeCounter counts observations per key with no window.
type cumulativeCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newCumulativeCounter() *cumulativeCounter {
	return &cumulativeCounter{counts: map[string]int{}}
}

// Observe records one hit and returns the total for key.
func (c *cumulativeCounter) Observe(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
	return c.counts[key]
}
