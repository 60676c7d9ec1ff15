package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis is a backend shared across processes. Tag membership is kept in
// Redis sets so invalidation works without knowing individual keys.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps a redis client. All keys and tag sets are namespaced under
// the given prefix.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "console"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(k string) string { return r.prefix + ":v:" + k }
func (r *Redis) tag(t string) string { return r.prefix + ":t:" + t }

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(key), value, ttl)
	for _, tag := range tags {
		pipe.SAdd(ctx, r.tag(tag), r.key(key))
		// Tag sets must outlive their members so purges see every key.
		if ttl > 0 {
			pipe.Expire(ctx, r.tag(tag), 2*ttl)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) InvalidateTags(ctx context.Context, tags ...string) (int, error) {
	purged := 0
	for _, tag := range tags {
		members, err := r.client.SMembers(ctx, r.tag(tag)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return purged, err
		}
		if len(members) > 0 {
			if err := r.client.Del(ctx, members...).Err(); err != nil {
				return purged, err
			}
			purged += len(members)
		}
		if err := r.client.Del(ctx, r.tag(tag)).Err(); err != nil {
			return purged, err
		}
	}
	return purged, nil
}
