package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-redis/redis/v8"

	"github.com/xenking/bazaar/internal/domain/storefront"
)

var _ storefront.Cache = (*Cache)(nil)

// Cache implements storefront.Cache with plain GET and SET EX.
type Cache struct {
	rdb    redis.Cmdable
	prefix string
}

// NewCache returns a Cache storing keys under prefix.
func NewCache(rdb redis.Cmdable, prefix string) *Cache {
	return &Cache{rdb: rdb, prefix: prefix}
}

// Get returns the value at key. A missing key is not an error.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, errors.Wrapf(err, "get %q", key)
	}
	return v, true, nil
}

// Set stores value at key for ttl.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return errors.Wrapf(err, "set %q", key)
	}
	return nil
}
