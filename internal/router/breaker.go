package router

import (
	"sync"
	"time"
)

// breaker is a per-provider circuit breaker. After threshold consecutive
// failures the provider is skipped until the cooldown passes.
type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	failures map[string]int
	openedAt map[string]time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		failures:  make(map[string]int),
		openedAt:  make(map[string]time.Time),
	}
}

// available reports whether requests may be sent to the named provider.
// An open circuit becomes half-open after the cooldown.
func (b *breaker) available(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	opened, open := b.openedAt[name]
	if !open {
		return true
	}
	return b.now().Sub(opened) > b.cooldown
}

func (b *breaker) recordSuccess(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.failures, name)
	delete(b.openedAt, name)
}

func (b *breaker) recordFailure(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures[name]++
	if b.failures[name] >= b.threshold {
		if _, open := b.openedAt[name]; !open {
			b.openedAt[name] = b.now()
		} else {
			// A failed half-open probe restarts the cooldown.
			b.openedAt[name] = b.now()
		}
	}
}
