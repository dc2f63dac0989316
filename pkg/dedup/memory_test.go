package dedup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClaimer_FreshThenDuplicate(t *testing.T) {
	c := NewMemoryClaimer(24 * time.Hour)
	ctx := context.Background()

	result, err := c.Claim(ctx, "mid.1")
	require.NoError(t, err)
	assert.Equal(t, Fresh, result)

	result, err = c.Claim(ctx, "mid.1")
	require.NoError(t, err)
	assert.Equal(t, Duplicate, result)
}

func TestMemoryClaimer_DistinctEventIDs(t *testing.T) {
	c := NewMemoryClaimer(24 * time.Hour)
	ctx := context.Background()

	for _, id := range []string{"mid.1", "mid.2", "mid.3"} {
		result, err := c.Claim(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, Fresh, result)
	}
}

func TestMemoryClaimer_ConcurrentClaims(t *testing.T) {
	c := NewMemoryClaimer(24 * time.Hour)
	ctx := context.Background()

	const workers = 32
	results := make(chan Result, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := c.Claim(ctx, "mid.contested")
			assert.NoError(t, err)
			results <- result
		}()
	}
	wg.Wait()
	close(results)

	fresh := 0
	for result := range results {
		if result == Fresh {
			fresh++
		}
	}
	// Exactly one concurrent caller wins the claim.
	assert.Equal(t, 1, fresh)
}

func TestMemoryClaimer_ExpiredRecordIsFreshAgain(t *testing.T) {
	c := NewMemoryClaimer(time.Hour)
	base := time.Now()
	c.now = func() time.Time { return base }
	ctx := context.Background()

	result, err := c.Claim(ctx, "mid.1")
	require.NoError(t, err)
	require.Equal(t, Fresh, result)

	c.now = func() time.Time { return base.Add(2 * time.Hour) }

	result, err = c.Claim(ctx, "mid.1")
	require.NoError(t, err)
	assert.Equal(t, Fresh, result)
}
