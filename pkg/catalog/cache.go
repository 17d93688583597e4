package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultCacheTTL bounds how long catalog metadata lives in Redis.
// Moment metadata is immutable in practice, so the TTL only limits
// cache growth.
const DefaultCacheTTL = 24 * time.Hour

// CachedResolver layers an in-process memo and a Redis read-through
// cache over a Resolver. Cache failures degrade to direct lookups and
// are never surfaced to callers.
type CachedResolver struct {
	inner  Resolver
	rdb    *redis.Client
	memo   *xsync.Map[uint64, Metadata]
	ttl    time.Duration
	logger *zap.Logger
}

var _ Resolver = (*CachedResolver)(nil)

// NewCachedResolver wraps inner with caching. rdb may be nil, in which
// case only the in-process memo is used.
func NewCachedResolver(logger *zap.Logger, inner Resolver, rdb *redis.Client, ttl time.Duration) *CachedResolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedResolver{
		inner:  inner,
		rdb:    rdb,
		memo:   xsync.NewMap[uint64, Metadata](),
		ttl:    ttl,
		logger: logger.With(zap.String("component", "catalog_cache")),
	}
}

func cacheKey(momentID uint64) string {
	return fmt.Sprintf("catalog:moment:%d", momentID)
}

func (c *CachedResolver) Metadata(ctx context.Context, momentID uint64) (*Metadata, error) {
	if md, ok := c.memo.Load(momentID); ok {
		return &md, nil
	}

	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, cacheKey(momentID)).Bytes()
		if err == nil {
			var md Metadata
			if err := json.Unmarshal(raw, &md); err == nil {
				c.memo.Store(momentID, md)
				return &md, nil
			}
		} else if err != redis.Nil {
			c.logger.Debug("Redis read failed, falling through to catalog",
				zap.Uint64("momentID", momentID), zap.Error(err))
		}
	}

	md, err := c.inner.Metadata(ctx, momentID)
	if err != nil {
		return nil, err
	}

	c.memo.Store(momentID, *md)
	if c.rdb != nil {
		if raw, err := json.Marshal(md); err == nil {
			if err := c.rdb.Set(ctx, cacheKey(momentID), raw, c.ttl).Err(); err != nil {
				c.logger.Debug("Redis write failed",
					zap.Uint64("momentID", momentID), zap.Error(err))
			}
		}
	}
	return md, nil
}
