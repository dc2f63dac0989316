package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryClaimer keeps idempotency records in process memory. It gives
// the same Fresh/Duplicate guarantee as the Redis claimer but records
// do not survive a restart; it backs tests and single-node dev setups.
type MemoryClaimer struct {
	mu        sync.Mutex
	claimed   map[string]time.Time
	retention time.Duration
	now       func() time.Time
}

func NewMemoryClaimer(retention time.Duration) *MemoryClaimer {
	return &MemoryClaimer{
		claimed:   make(map[string]time.Time),
		retention: retention,
		now:       time.Now,
	}
}

func (c *MemoryClaimer) Claim(_ context.Context, eventID string) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if at, ok := c.claimed[eventID]; ok && now.Sub(at) < c.retention {
		return Duplicate, nil
	}
	c.claimed[eventID] = now

	// Opportunistic expiry sweep; the map stays bounded by the
	// retention window without a background goroutine.
	for id, at := range c.claimed {
		if now.Sub(at) >= c.retention {
			delete(c.claimed, id)
		}
	}

	return Fresh, nil
}
