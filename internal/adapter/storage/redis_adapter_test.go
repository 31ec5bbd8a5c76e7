package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/cart-checkout/internal/core/domain"
	"github.com/rl1809/cart-checkout/internal/port"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestCartCache_SetGet(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewRedisCartCache(client, time.Minute)
	ctx := context.Background()

	view := domain.NewCartView("sess-1", []domain.CartItemView{{
		CartLine:   domain.CartLine{SessionID: "sess-1", ProductID: 7, Quantity: 2},
		Name:       "Mug",
		UnitPrice:  decimal.RequireFromString("4.50"),
		StockCount: 10,
	}})
	require.NoError(t, cache.Set(ctx, "sess-1", 0, view))
	assert.True(t, mr.Exists("cart:view:sess-1"))
	assert.Equal(t, time.Minute, mr.TTL("cart:view:sess-1"))

	got, err := cache.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, int64(7), got.Lines[0].ProductID)
	assert.True(t, got.Total.Equal(decimal.RequireFromString("9.00")))
}

func TestCartCache_Miss(t *testing.T) {
	client, _ := setupTestRedis(t)
	cache := NewRedisCartCache(client, 0)

	got, err := cache.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, port.ErrCacheMiss)
	assert.Nil(t, got)
}

func TestCartCache_ExpiresAndDeletes(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewRedisCartCache(client, 10*time.Second)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "sess-1", 0, domain.NewCartView("sess-1", nil)))
	mr.FastForward(11 * time.Second)
	_, err := cache.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, port.ErrCacheMiss)

	require.NoError(t, cache.Set(ctx, "sess-1", 0, domain.NewCartView("sess-1", nil)))
	require.NoError(t, cache.Delete(ctx, "sess-1"))
	_, err = cache.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, port.ErrCacheMiss)
}

func TestCartCache_SetSkipsOlderGeneration(t *testing.T) {
	client, _ := setupTestRedis(t)
	cache := NewRedisCartCache(client, time.Minute)
	ctx := context.Background()

	before, err := cache.Generation(ctx, "sess-1")
	require.NoError(t, err)
	assert.Zero(t, before)

	// A mutation lands between the view read and the cache write.
	require.NoError(t, cache.Delete(ctx, "sess-1"))
	after, err := cache.Generation(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, before+1, after)

	stale := domain.NewCartView("sess-1", []domain.CartItemView{{
		CartLine: domain.CartLine{SessionID: "sess-1", ProductID: 7, Quantity: 1},
	}})
	require.NoError(t, cache.Set(ctx, "sess-1", before, stale))
	_, err = cache.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, port.ErrCacheMiss)

	fresh := domain.NewCartView("sess-1", []domain.CartItemView{{
		CartLine: domain.CartLine{SessionID: "sess-1", ProductID: 7, Quantity: 2},
	}})
	require.NoError(t, cache.Set(ctx, "sess-1", after, fresh))
	got, err := cache.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Lines[0].Quantity)
}

func TestCheckoutGuard_AcquireOnce(t *testing.T) {
	client, mr := setupTestRedis(t)
	guard := NewRedisCheckoutGuard(client, time.Minute, time.Hour)
	ctx := context.Background()

	ok, err := guard.Acquire(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.Acquire(ctx, "key-1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, time.Minute, mr.TTL("checkout:idem:key-1"))

	prior, err := guard.Recall(ctx, "key-1")
	require.NoError(t, err)
	assert.Nil(t, prior, "in-flight marker must not look like a result")
}

func TestCheckoutGuard_AcquireConcurrent(t *testing.T) {
	client, _ := setupTestRedis(t)
	guard := NewRedisCheckoutGuard(client, time.Minute, time.Hour)
	ctx := context.Background()

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := guard.Acquire(ctx, "shared")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successCount.Load())
}

func TestCheckoutGuard_RememberRecall(t *testing.T) {
	client, mr := setupTestRedis(t)
	guard := NewRedisCheckoutGuard(client, time.Minute, time.Hour)
	ctx := context.Background()

	ok, err := guard.Acquire(ctx, "key-1")
	require.NoError(t, err)
	require.True(t, ok)

	result := port.CheckoutResult{
		OrderID:     "order-1",
		OrderNumber: "ORD-1-ABC",
		TotalAmount: decimal.RequireFromString("25.00"),
		ItemCount:   2,
	}
	require.NoError(t, guard.Remember(ctx, "key-1", result))
	assert.Equal(t, time.Hour, mr.TTL("checkout:idem:key-1"))

	got, err := guard.Recall(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "order-1", got.OrderID)
	assert.True(t, got.TotalAmount.Equal(result.TotalAmount))

	// A release after the result is stored must not drop it.
	require.NoError(t, guard.Release(ctx, "key-1"))
	got, err = guard.Recall(ctx, "key-1")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestCheckoutGuard_ReleaseAllowsRetry(t *testing.T) {
	client, _ := setupTestRedis(t)
	guard := NewRedisCheckoutGuard(client, time.Minute, time.Hour)
	ctx := context.Background()

	ok, err := guard.Acquire(ctx, "key-1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, guard.Release(ctx, "key-1"))

	ok, err = guard.Acquire(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckoutGuard_PendingMarkerExpires(t *testing.T) {
	client, mr := setupTestRedis(t)
	guard := NewRedisCheckoutGuard(client, 10*time.Second, time.Hour)
	ctx := context.Background()

	ok, err := guard.Acquire(ctx, "key-1")
	require.NoError(t, err)
	require.True(t, ok)

	// The holder died without Remember or Release.
	mr.FastForward(11 * time.Second)

	ok, err = guard.Acquire(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, ok)
}
