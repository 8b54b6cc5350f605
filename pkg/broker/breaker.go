package broker

import (
	"sync"
	"time"
)

// breaker is a per-connection-type circuit breaker. A run of consecutive
// failures opens the circuit for a cooldown; after the cooldown one trial
// invocation is allowed through and decides whether it closes again.
type breaker struct {
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	failures map[string]int
	openedAt map[string]time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{
		threshold: threshold,
		cooldown:  cooldown,
		failures:  map[string]int{},
		openedAt:  map[string]time.Time{},
	}
}

// Allow reports whether an invocation against connType may proceed.
func (b *breaker) Allow(connType string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	opened, open := b.openedAt[connType]
	if !open {
		return true
	}
	// Half-open: let one trial through after the cooldown.
	if time.Since(opened) >= b.cooldown {
		delete(b.openedAt, connType)
		b.failures[connType] = b.threshold - 1
		return true
	}
	return false
}

// Success closes the circuit for connType.
func (b *breaker) Success(connType string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.failures, connType)
	delete(b.openedAt, connType)
}

// Failure records a failed invocation and opens the circuit at the threshold.
func (b *breaker) Failure(connType string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[connType]++
	if b.failures[connType] >= b.threshold {
		b.openedAt[connType] = time.Now()
	}
}
