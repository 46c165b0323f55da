package gateway

import (
	"sync"
	"time"
)

// tokenBucket is the per-connection chat limiter: capacity tokens burst,
// refilled at rate tokens per second. No library in the stack covers
// this, so it is the one hand-rolled concurrency primitive here.
type tokenBucket struct {
	mu       sync.Mutex
	capacity float64
	rate     float64
	tokens   float64
	last     time.Time
}

func newTokenBucket(capacity int, perMinute int) *tokenBucket {
	return &tokenBucket{
		capacity: float64(capacity),
		rate:     float64(perMinute) / 60.0,
		tokens:   float64(capacity),
	}
}

// allow consumes one token if available
func (b *tokenBucket) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.last.IsZero() {
		b.tokens += now.Sub(b.last).Seconds() * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
