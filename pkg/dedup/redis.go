package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "dedup:event:"

// RedisClaimer stores idempotency records as Redis keys with the
// retention window as TTL. SET NX makes the test-and-set atomic across
// concurrent deliveries; expiry garbage-collects records once the
// platform can no longer retry them.
type RedisClaimer struct {
	rdb       *redis.Client
	retention time.Duration
	logger    *logrus.Logger
}

func NewRedisClaimer(rdb *redis.Client, retention time.Duration, logger *logrus.Logger) *RedisClaimer {
	return &RedisClaimer{
		rdb:       rdb,
		retention: retention,
		logger:    logger,
	}
}

func (c *RedisClaimer) Claim(ctx context.Context, eventID string) (Result, error) {
	set, err := c.rdb.SetNX(ctx, keyPrefix+eventID, time.Now().UTC().Format(time.RFC3339Nano), c.retention).Result()
	if err != nil {
		c.logger.WithError(err).WithField("event_id", eventID).Error("Failed to claim event")
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if !set {
		c.logger.WithField("event_id", eventID).Debug("Event already claimed, treating as duplicate")
		return Duplicate, nil
	}

	return Fresh, nil
}
