package service

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/cart-checkout/internal/adapter/storage"
	"github.com/rl1809/cart-checkout/internal/clock"
	"github.com/rl1809/cart-checkout/internal/core/domain"
	"github.com/rl1809/cart-checkout/internal/port"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type fixture struct {
	store    *storage.MemoryStore
	carts    *CartService
	checkout *CheckoutService
	orders   *OrderService
	clock    clock.Clock
	logger   *log.Logger
}

func newFixture(t *testing.T, products ...domain.Product) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	for _, p := range products {
		require.NoError(t, store.Inventory().Save(context.Background(), p))
	}
	clk := clock.NewFixed(testNow)
	logger := log.New(io.Discard, "", 0)
	return &fixture{
		store:    store,
		carts:    NewCartService(store, nil, clk, nil, logger, 10),
		checkout: NewCheckoutService(store, nil, nil, clk, nil, logger, time.Second),
		orders:   NewOrderService(store, clk, nil, logger),
		clock:    clk,
		logger:   logger,
	}
}

func product(id int64, name, price string, stock int) domain.Product {
	return domain.Product{
		ID:         id,
		Name:       name,
		UnitPrice:  decimal.RequireFromString(price),
		StockCount: stock,
		UpdatedAt:  testNow,
	}
}

func (f *fixture) stock(t *testing.T, productID int64) int {
	t.Helper()
	p, err := f.store.Inventory().Get(context.Background(), productID)
	require.NoError(t, err)
	return p.StockCount
}

func buyer(sessionID string) CheckoutInput {
	return CheckoutInput{
		SessionID:       sessionID,
		Customer:        domain.Customer{Name: "Ada Lovelace", Email: "Ada@Example.com"},
		ShippingAddress: "12 Analytical Engine Way, London",
	}
}

// memGuard is an in-process port.CheckoutGuard with the same pending/result
// semantics as the Redis guard.
type memGuard struct {
	mu      sync.Mutex
	pending map[string]bool
	results map[string]port.CheckoutResult
}

func newMemGuard() *memGuard {
	return &memGuard{pending: map[string]bool{}, results: map[string]port.CheckoutResult{}}
}

func (g *memGuard) Acquire(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, done := g.results[key]; done || g.pending[key] {
		return false, nil
	}
	g.pending[key] = true
	return true, nil
}

func (g *memGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending, key)
	return nil
}

func (g *memGuard) Remember(_ context.Context, key string, result port.CheckoutResult) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending, key)
	g.results[key] = result
	return nil
}

func (g *memGuard) Recall(_ context.Context, key string) (*port.CheckoutResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.results[key]; ok {
		return &r, nil
	}
	return nil, nil
}

// finishingGuard records a result for the key just before Acquire runs, the
// way a concurrent request that completes in between would.
type finishingGuard struct {
	*memGuard
	result port.CheckoutResult
}

func (g finishingGuard) Acquire(ctx context.Context, key string) (bool, error) {
	if err := g.memGuard.Remember(ctx, key, g.result); err != nil {
		return false, err
	}
	return g.memGuard.Acquire(ctx, key)
}

type memCache struct {
	mu    sync.Mutex
	views map[string]domain.CartView
	gens  map[string]int64
}

func newMemCache() *memCache {
	return &memCache{views: map[string]domain.CartView{}, gens: map[string]int64{}}
}

func (c *memCache) Get(_ context.Context, sessionID string) (*domain.CartView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[sessionID]
	if !ok {
		return nil, port.ErrCacheMiss
	}
	return &v, nil
}

func (c *memCache) Generation(_ context.Context, sessionID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[sessionID], nil
}

func (c *memCache) Set(_ context.Context, sessionID string, gen int64, view domain.CartView) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[sessionID] == gen {
		c.views[sessionID] = view
	}
	return nil
}

func (c *memCache) Delete(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[sessionID]++
	delete(c.views, sessionID)
	return nil
}

// stallingStore holds every transaction open until its context expires, the
// way a lock wait behaves when another session never lets go.
type stallingStore struct {
	*storage.MemoryStore
}

func (s stallingStore) WithTx(ctx context.Context, _ func(ctx context.Context, repos port.Repositories) error) error {
	<-ctx.Done()
	return ctx.Err()
}

// pausingStore parks the first cart view read after it has loaded the rows,
// until release is closed.
type pausingStore struct {
	*storage.MemoryStore
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func newPausingStore(store *storage.MemoryStore) *pausingStore {
	return &pausingStore{MemoryStore: store, read: make(chan struct{}), release: make(chan struct{})}
}

func (s *pausingStore) Carts() port.CartRepository {
	return pausingCarts{CartRepository: s.MemoryStore.Carts(), store: s}
}

type pausingCarts struct {
	port.CartRepository
	store *pausingStore
}

func (c pausingCarts) View(ctx context.Context, sessionID string) ([]domain.CartItemView, error) {
	items, err := c.CartRepository.View(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	first := false
	c.store.once.Do(func() { first = true })
	if first {
		close(c.store.read)
		<-c.store.release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return items, nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []domain.Event
	failOn    string
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if event.EventID == p.failOn {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }
