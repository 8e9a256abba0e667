package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func holdKey(movieID, seatNumber string) string {
	return "hold:" + movieID + ":" + seatNumber
}

// SetHoldLock claims the cross-instance guard for a seat. The TTL matches the
// hold deadline, so an expired hold needs no redis cleanup: the key dies on
// its own. The durable compare-and-set remains the arbiter; this only cuts
// contention between instances.
func (c *Cache) SetHoldLock(ctx context.Context, movieID, seatNumber, holderID string, ttl time.Duration) (bool, error) {
	res := c.client.SetNX(ctx, holdKey(movieID, seatNumber), holderID, ttl)
	return res.Val(), res.Err()
}

// ReleaseHoldLock drops the guard early, for cancels and failed hold attempts.
func (c *Cache) ReleaseHoldLock(ctx context.Context, movieID, seatNumber string) error {
	return c.client.Del(ctx, holdKey(movieID, seatNumber)).Err()
}
