// Package credcache is the in-process cache for decrypted credential bundles.
// Entries live for a fixed TTL measured from insertion, and invalidation wins
// every race against in-flight population: a bundle fetched before an
// Invalidate call is never stored after it.
package credcache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relayforge-ai/relayforge-engine/pkg/models"
)

// Bundle is a decrypted credential set ready for use by an integration.
// Bundles exist only in memory and must never be persisted or logged.
type Bundle struct {
	ConnectionID uuid.UUID
	UserID       uuid.UUID
	Type         string
	Fields       map[string]string
	Scopes       []models.Scope
}

// Key identifies a cached bundle. Entries are scoped per caller, so a warm
// entry populated by the owner is never served to a different user naming the
// same connection ID.
type Key struct {
	ConnectionID uuid.UUID
	UserID       uuid.UUID
}

// PopulateFunc loads a fresh bundle from the store when the cache misses.
type PopulateFunc func(ctx context.Context) (*Bundle, error)

type entry struct {
	bundle    *Bundle
	expiresAt time.Time
}

// Cache holds decrypted bundles keyed by (connection, user).
type Cache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[Key]*entry

	// Generation counters are per connection and outlive their entries so
	// that an Invalidate racing a slow populate still suppresses the stale
	// store, whichever user started it.
	gens map[uuid.UUID]uint64
}

// New creates a cache whose entries expire ttl after insertion.
func New(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[Key]*entry),
		gens:    make(map[uuid.UUID]uint64),
	}
}

// GetOrPopulate returns the cached bundle for key, calling populate on a
// miss. The lock is not held during population. If the connection is
// invalidated while populate is in flight, the fetched bundle is returned to
// the caller but not cached, so the next access sees fresh state.
func (c *Cache) GetOrPopulate(ctx context.Context, key Key, populate PopulateFunc) (*Bundle, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && time.Now().Before(e.expiresAt) {
		bundle := e.bundle
		c.mu.Unlock()
		return bundle, nil
	}
	gen := c.gens[key.ConnectionID]
	c.mu.Unlock()

	bundle, err := populate(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.gens[key.ConnectionID] == gen {
		c.entries[key] = &entry{
			bundle:    bundle,
			expiresAt: time.Now().Add(c.ttl),
		}
	}
	c.mu.Unlock()

	return bundle, nil
}

// Invalidate drops every cached bundle for the connection and defeats any
// population currently in flight for it.
func (c *Cache) Invalidate(connectionID uuid.UUID) {
	c.mu.Lock()
	for key := range c.entries {
		if key.ConnectionID == connectionID {
			delete(c.entries, key)
		}
	}
	c.gens[connectionID]++
	c.mu.Unlock()
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes expired entries and returns how many were dropped. Expired
// entries are also unreachable through GetOrPopulate, so sweeping only
// reclaims memory.
func (c *Cache) Sweep() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep on the given interval until ctx is done.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := c.Sweep(); removed > 0 {
					logger.Debug("swept expired credential bundles", zap.Int("removed", removed))
				}
			}
		}
	}()
}
