package cache

import (
	"context"
	"delivery-dashboard/internal/domain"
	"delivery-dashboard/internal/platform/obs"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultEntityTTL = 10 * time.Minute

// RedisEntityCache keeps the last successfully fetched entity lists so a
// fresh dashboard can render before the backend answers.
type RedisEntityCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisEntityCache(client *redis.Client, prefix string, ttl time.Duration) *RedisEntityCache {
	if prefix == "" {
		prefix = "dashboard"
	}
	if ttl <= 0 {
		ttl = DefaultEntityTTL
	}
	return &RedisEntityCache{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisEntityCache) key(kind domain.EntityKind) string {
	return fmt.Sprintf("%s:entities:%s", r.prefix, kind)
}

// GetEntities reports ok=false on a cache miss.
func (r *RedisEntityCache) GetEntities(ctx context.Context, kind domain.EntityKind) (_ []domain.Entity, _ bool, err error) {
	defer obs.Time(ctx, "entity.cache.Get")(&err)

	if r.client == nil {
		return nil, false, errors.New("entity cache: client is nil")
	}

	b, err := r.client.Get(ctx, r.key(kind)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get entity cache %s: %w", kind, err)
	}

	var entities []domain.Entity
	if err := json.Unmarshal(b, &entities); err != nil {
		return nil, false, fmt.Errorf("get entity cache %s: decode: %w", kind, err)
	}
	return entities, true, nil
}

func (r *RedisEntityCache) PutEntities(ctx context.Context, kind domain.EntityKind, entities []domain.Entity) (err error) {
	defer obs.Time(ctx, "entity.cache.Put")(&err)

	if r.client == nil {
		return errors.New("entity cache: client is nil")
	}

	if entities == nil {
		entities = []domain.Entity{}
	}
	b, err := json.Marshal(entities)
	if err != nil {
		return fmt.Errorf("put entity cache %s: encode: %w", kind, err)
	}
	if err := r.client.Set(ctx, r.key(kind), b, r.ttl).Err(); err != nil {
		return fmt.Errorf("put entity cache %s: %w", kind, err)
	}
	return nil
}

// Ping verifies the connection.
func (r *RedisEntityCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
