package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/serenomind/sereno/internal/extract"
	"github.com/serenomind/sereno/internal/logger"
)

const (
	redisKeyPrefix   = "analysis:result:"
	redisScopePrefix = "analysis:scope:"
)

// Redis is the shared result cache backed by go-redis. Every failure is
// logged and degrades to a miss; redis being down never fails a
// request.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) (*extract.Result, bool) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warnw("result cache unavailable, treating as miss", "op", "get", "err", err)
		}
		return nil, false
	}
	var value extract.Result
	if err := json.Unmarshal(raw, &value); err != nil {
		logger.Warnw("result cache entry corrupt, treating as miss", "err", err)
		return nil, false
	}
	return &value, true
}

func (r *Redis) Put(ctx context.Context, key, scopeID string, value *extract.Result) {
	if value == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		logger.Warnw("result cache marshal failed", "err", err)
		return
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, raw, r.ttl).Err(); err != nil {
		logger.Warnw("result cache unavailable, skipping store", "op", "put", "err", err)
		return
	}
	if scopeID != "" {
		// secondary index: scope id -> keys, used by Invalidate
		pipe := r.client.Pipeline()
		pipe.SAdd(ctx, redisScopePrefix+scopeID, key)
		pipe.Expire(ctx, redisScopePrefix+scopeID, r.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			logger.Warnw("result cache scope index update failed", "scope", scopeID, "err", err)
		}
	}
}

func (r *Redis) Invalidate(ctx context.Context, scopeID string) {
	if scopeID == "" {
		return
	}
	keys, err := r.client.SMembers(ctx, redisScopePrefix+scopeID).Result()
	if err != nil {
		logger.Warnw("result cache unavailable, skipping invalidation", "scope", scopeID, "err", err)
		return
	}
	if len(keys) > 0 {
		full := make([]string, 0, len(keys)+1)
		for _, k := range keys {
			full = append(full, redisKeyPrefix+k)
		}
		full = append(full, redisScopePrefix+scopeID)
		if err := r.client.Del(ctx, full...).Err(); err != nil {
			logger.Warnw("result cache invalidation failed", "scope", scopeID, "err", err)
		}
		return
	}
	_ = r.client.Del(ctx, redisScopePrefix+scopeID).Err()
}
