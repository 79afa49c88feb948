package prober

import (
	"sync/atomic"
	"time"
)

// tokenBucket bounds concurrent probe spend across the whole pool. Check and
// consume are atomic and non-blocking: a probe that cannot get a token is
// skipped this tick, not queued, so probing never piles up behind itself on
// a slow network.
type tokenBucket struct {
	tokens      atomic.Int64
	maxTokens   int64
	refillEvery time.Duration
	lastRefill  atomic.Value // time.Time
}

func newTokenBucket(burst int, refillEvery time.Duration) *tokenBucket {
	b := &tokenBucket{
		maxTokens:   int64(burst),
		refillEvery: refillEvery,
	}
	b.tokens.Store(b.maxTokens)
	b.lastRefill.Store(time.Now())
	return b
}

func (b *tokenBucket) refill() {
	last := b.lastRefill.Load().(time.Time)
	now := time.Now()
	elapsed := now.Sub(last)
	if elapsed < b.refillEvery {
		return
	}
	n := int64(elapsed / b.refillEvery)
	for i := int64(0); i < n; i++ {
		if b.tokens.Load() >= b.maxTokens {
			break
		}
		b.tokens.Add(1)
	}
	b.lastRefill.Store(now)
}

// tryAcquire takes one token if available.
func (b *tokenBucket) tryAcquire() bool {
	b.refill()
	for {
		cur := b.tokens.Load()
		if cur <= 0 {
			return false
		}
		if b.tokens.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}
