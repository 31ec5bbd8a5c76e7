package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/cart-checkout/internal/core/domain"
	"github.com/rl1809/cart-checkout/internal/port"
)

const (
	cartKeyPrefix         = "cart:view:"
	cartGenKeyPrefix      = "cart:gen:"
	checkoutKeyPrefix     = "checkout:idem:"
	checkoutPending       = "pending"
	defaultCartCacheTTL   = 30 * time.Second
	cartGenerationTTL     = 24 * time.Hour
	defaultPendingTTL     = 30 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
)

// setIfGenerationScript writes the view only while the session's generation
// still equals the one read before the view was loaded.
var setIfGenerationScript = redis.NewScript(`
if (redis.call('GET', KEYS[1]) or '0') == ARGV[1] then
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
	return 1
end
return 0
`)

// releaseScript deletes the key only while it still holds the in-flight
// marker, so a late release never drops a remembered result.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

type RedisCartCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCartCache(client *redis.Client, ttl time.Duration) *RedisCartCache {
	if ttl <= 0 {
		ttl = defaultCartCacheTTL
	}
	return &RedisCartCache{client: client, ttl: ttl}
}

func (r *RedisCartCache) Get(ctx context.Context, sessionID string) (*domain.CartView, error) {
	data, err := r.client.Get(ctx, cartKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, port.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var view domain.CartView
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, fmt.Errorf("unmarshal cart view failed: %w", err)
	}
	return &view, nil
}

func (r *RedisCartCache) Generation(ctx context.Context, sessionID string) (int64, error) {
	gen, err := r.client.Get(ctx, cartGenKeyPrefix+sessionID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get generation failed: %w", err)
	}
	return gen, nil
}

func (r *RedisCartCache) Set(ctx context.Context, sessionID string, gen int64, view domain.CartView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("marshal cart view failed: %w", err)
	}
	keys := []string{cartGenKeyPrefix + sessionID, cartKeyPrefix + sessionID}
	err = setIfGenerationScript.Run(ctx, r.client, keys, strconv.FormatInt(gen, 10), data, r.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCartCache) Delete(ctx context.Context, sessionID string) error {
	genKey := cartGenKeyPrefix + sessionID
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, cartGenerationTTL)
		pipe.Del(ctx, cartKeyPrefix+sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// RedisCheckoutGuard stores an in-flight marker under the idempotency key
// while a checkout runs and the checkout result once it succeeds. The marker
// lives only as long as one checkout can, so a crash or a failed Remember
// does not lock the key out for the whole result TTL.
type RedisCheckoutGuard struct {
	client     *redis.Client
	pendingTTL time.Duration
	ttl        time.Duration
}

func NewRedisCheckoutGuard(client *redis.Client, pendingTTL, ttl time.Duration) *RedisCheckoutGuard {
	if pendingTTL <= 0 {
		pendingTTL = defaultPendingTTL
	}
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return &RedisCheckoutGuard{client: client, pendingTTL: pendingTTL, ttl: ttl}
}

func (g *RedisCheckoutGuard) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, checkoutKeyPrefix+key, checkoutPending, g.pendingTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (g *RedisCheckoutGuard) Release(ctx context.Context, key string) error {
	return releaseScript.Run(ctx, g.client, []string{checkoutKeyPrefix + key}, checkoutPending).Err()
}

func (g *RedisCheckoutGuard) Remember(ctx context.Context, key string, result port.CheckoutResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal checkout result: %w", err)
	}
	return g.client.Set(ctx, checkoutKeyPrefix+key, data, g.ttl).Err()
}

func (g *RedisCheckoutGuard) Recall(ctx context.Context, key string) (*port.CheckoutResult, error) {
	data, err := g.client.Get(ctx, checkoutKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) || data == checkoutPending {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var result port.CheckoutResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, fmt.Errorf("unmarshal checkout result: %w", err)
	}
	return &result, nil
}
