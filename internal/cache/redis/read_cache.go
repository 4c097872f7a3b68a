package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"StableLedger/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultReadTTL = 30 * time.Second

// ReadCache stores serialized query responses for positions and governance.
// The projection worker invalidates entries as rows change; the TTL bounds
// staleness if an invalidation is lost.
//
// Key schema:
//
//	{prefix}position:{owner} - JSON position view
//	{prefix}governance       - JSON governance view
type ReadCache struct {
	client *Client
	ttl    time.Duration
}

func NewReadCache(c *Client, ttl time.Duration) *ReadCache {
	if ttl <= 0 {
		ttl = defaultReadTTL
	}
	return &ReadCache{client: c, ttl: ttl}
}

func (rc *ReadCache) positionKey(owner uuid.UUID) string {
	return rc.client.key("position", owner.String())
}

func (rc *ReadCache) governanceKey() string {
	return rc.client.key("governance")
}

// GetPosition returns the cached view for owner, or domain.ErrNotFound.
func (rc *ReadCache) GetPosition(ctx context.Context, owner uuid.UUID) ([]byte, error) {
	return rc.get(ctx, rc.positionKey(owner))
}

func (rc *ReadCache) SetPosition(ctx context.Context, owner uuid.UUID, data []byte) error {
	return rc.set(ctx, rc.positionKey(owner), data)
}

func (rc *ReadCache) InvalidatePosition(ctx context.Context, owner uuid.UUID) error {
	return rc.del(ctx, rc.positionKey(owner))
}

// GetGovernance returns the cached governance view, or domain.ErrNotFound.
func (rc *ReadCache) GetGovernance(ctx context.Context) ([]byte, error) {
	return rc.get(ctx, rc.governanceKey())
}

func (rc *ReadCache) SetGovernance(ctx context.Context, data []byte) error {
	return rc.set(ctx, rc.governanceKey(), data)
}

func (rc *ReadCache) InvalidateGovernance(ctx context.Context) error {
	return rc.del(ctx, rc.governanceKey())
}

func (rc *ReadCache) get(ctx context.Context, key string) ([]byte, error) {
	data, err := rc.client.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return data, nil
}

func (rc *ReadCache) set(ctx context.Context, key string, data []byte) error {
	if err := rc.client.rdb.Set(ctx, key, data, rc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

func (rc *ReadCache) del(ctx context.Context, key string) error {
	if err := rc.client.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: del %s: %w", key, err)
	}
	return nil
}
