package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rl1809/cart-checkout/internal/clock"
	"github.com/rl1809/cart-checkout/internal/core/domain"
	"github.com/rl1809/cart-checkout/internal/metrics"
	"github.com/rl1809/cart-checkout/internal/port"
)

const viewLoadTimeout = 5 * time.Second

type CartService struct {
	store   port.Store
	cache   port.CartCache
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *log.Logger
	maxQty  int
	sfg     singleflight.Group
}

// NewCartService builds the cart store operations. cache and m may be nil.
func NewCartService(store port.Store, cache port.CartCache, clk clock.Clock, m *metrics.Metrics, logger *log.Logger, maxLineQuantity int) *CartService {
	if maxLineQuantity <= 0 {
		maxLineQuantity = domain.DefaultMaxLineQuantity
	}
	return &CartService{
		store:   store,
		cache:   cache,
		clock:   clk,
		metrics: m,
		logger:  logger,
		maxQty:  maxLineQuantity,
	}
}

// AddItem merges quantity into the session's line for productID, creating
// the line if needed, and returns the merged line. The stock comparison is
// advisory; checkout performs the authoritative one.
func (s *CartService) AddItem(ctx context.Context, sessionID string, productID int64, quantity int) (line domain.CartLine, err error) {
	defer func() { s.metrics.CartOperation("add", err) }()

	if err := s.validateLineRef(sessionID, productID); err != nil {
		return domain.CartLine{}, err
	}
	if err := domain.ValidateQuantity(quantity, s.maxQty); err != nil {
		return domain.CartLine{}, err
	}

	product, err := s.store.Inventory().Get(ctx, productID)
	if err != nil {
		return domain.CartLine{}, err
	}
	if quantity > product.StockCount {
		return domain.CartLine{}, fmt.Errorf("%w for %s: requested %d, available %d",
			domain.ErrInsufficientStock, product.Name, quantity, product.StockCount)
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, repos port.Repositories) error {
		merged, err := repos.Carts().Merge(ctx, domain.CartLine{
			SessionID: sessionID,
			ProductID: productID,
			Quantity:  quantity,
			AddedAt:   s.clock.Now(),
		})
		if err != nil {
			return err
		}
		if merged.Quantity > s.maxQty {
			return fmt.Errorf("%w (max %d, line would hold %d)", domain.ErrQuantityExceedsCap, s.maxQty, merged.Quantity)
		}
		line = merged
		return nil
	})
	if err != nil {
		return domain.CartLine{}, err
	}

	s.invalidate(sessionID)
	return line, nil
}

// UpdateQuantity sets the line's quantity. Zero removes the line and is
// idempotent.
func (s *CartService) UpdateQuantity(ctx context.Context, sessionID string, productID int64, quantity int) (update domain.CartUpdate, err error) {
	defer func() { s.metrics.CartOperation("update", err) }()

	if err := s.validateLineRef(sessionID, productID); err != nil {
		return domain.CartUpdate{}, err
	}
	if quantity < 0 {
		return domain.CartUpdate{}, fmt.Errorf("%w: must not be negative", domain.ErrInvalidQuantity)
	}
	if quantity > s.maxQty {
		return domain.CartUpdate{}, fmt.Errorf("%w (max %d)", domain.ErrQuantityExceedsCap, s.maxQty)
	}

	if quantity == 0 {
		if err := s.store.Carts().Delete(ctx, sessionID, productID); err != nil {
			return domain.CartUpdate{}, err
		}
		s.invalidate(sessionID)
		return domain.CartUpdate{Removed: true}, nil
	}

	product, err := s.store.Inventory().Get(ctx, productID)
	if err != nil {
		return domain.CartUpdate{}, err
	}
	if quantity > product.StockCount {
		return domain.CartUpdate{}, fmt.Errorf("%w for %s: requested %d, available %d",
			domain.ErrInsufficientStock, product.Name, quantity, product.StockCount)
	}

	var line domain.CartLine
	err = s.store.WithTx(ctx, func(ctx context.Context, repos port.Repositories) error {
		existing, err := repos.Carts().LineForUpdate(ctx, sessionID, productID)
		if err != nil {
			return err
		}
		if existing == nil {
			return domain.ErrCartLineNotFound
		}
		line = *existing
		line.Quantity = quantity
		return repos.Carts().Save(ctx, line)
	})
	if err != nil {
		return domain.CartUpdate{}, err
	}

	s.invalidate(sessionID)
	return domain.CartUpdate{Line: &line}, nil
}

// RemoveItem deletes the line if present.
func (s *CartService) RemoveItem(ctx context.Context, sessionID string, productID int64) (err error) {
	defer func() { s.metrics.CartOperation("remove", err) }()

	if err := s.validateLineRef(sessionID, productID); err != nil {
		return err
	}
	if err := s.store.Carts().Delete(ctx, sessionID, productID); err != nil {
		return err
	}
	s.invalidate(sessionID)
	return nil
}

// Clear empties the cart. Clearing an empty or unknown cart succeeds.
func (s *CartService) Clear(ctx context.Context, sessionID string) (err error) {
	defer func() { s.metrics.CartOperation("clear", err) }()

	if err := domain.ValidateSessionID(sessionID); err != nil {
		return err
	}
	if err := s.store.Carts().Clear(ctx, sessionID); err != nil {
		return err
	}
	s.invalidate(sessionID)
	return nil
}

// GetCart returns the session's lines with live prices. The view may be
// served from cache and can be stale relative to a later checkout, but never
// older than a mutation that returned before the call started.
func (s *CartService) GetCart(ctx context.Context, sessionID string) (view domain.CartView, err error) {
	defer func() { s.metrics.CartOperation("view", err) }()

	if err := domain.ValidateSessionID(sessionID); err != nil {
		return domain.CartView{}, err
	}
	if s.cache == nil {
		return s.loadView(ctx, sessionID)
	}

	cached, err := s.cache.Get(ctx, sessionID)
	if err == nil {
		return *cached, nil
	}
	if !errors.Is(err, port.ErrCacheMiss) {
		s.logger.Printf("cart cache get %s: %v", sessionID, err)
	}

	gen, err := s.cache.Generation(ctx, sessionID)
	if err != nil {
		s.logger.Printf("cart cache generation %s: %v", sessionID, err)
		return s.loadView(ctx, sessionID)
	}

	// Callers share a load only within one generation. The load is detached
	// from every caller's cancellation.
	ch := s.sfg.DoChan(fmt.Sprintf("%s#%d", sessionID, gen), func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), viewLoadTimeout)
		defer cancel()

		view, err := s.loadView(loadCtx, sessionID)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(loadCtx, sessionID, gen, view); err != nil {
			s.logger.Printf("cart cache set %s: %v", sessionID, err)
		}
		return view, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.CartView{}, res.Err
		}
		return res.Val.(domain.CartView), nil
	case <-ctx.Done():
		return domain.CartView{}, ctx.Err()
	}
}

func (s *CartService) loadView(ctx context.Context, sessionID string) (domain.CartView, error) {
	items, err := s.store.Carts().View(ctx, sessionID)
	if err != nil {
		return domain.CartView{}, err
	}
	return domain.NewCartView(sessionID, items), nil
}

// CheckAvailability is the inventory ledger's advisory read.
func (s *CartService) CheckAvailability(ctx context.Context, productID int64, quantity int) (domain.Availability, error) {
	if err := domain.ValidateProductID(productID); err != nil {
		return domain.Availability{}, err
	}
	if quantity <= 0 {
		return domain.Availability{}, fmt.Errorf("%w: must be a positive integer", domain.ErrInvalidQuantity)
	}
	product, err := s.store.Inventory().Get(ctx, productID)
	if err != nil {
		return domain.Availability{}, err
	}
	return domain.NewAvailability(productID, quantity, product.StockCount), nil
}

func (s *CartService) validateLineRef(sessionID string, productID int64) error {
	if err := domain.ValidateSessionID(sessionID); err != nil {
		return err
	}
	return domain.ValidateProductID(productID)
}

func (s *CartService) invalidate(sessionID string) {
	invalidateCart(s.cache, s.logger, sessionID)
}

func invalidateCart(cache port.CartCache, logger *log.Logger, sessionID string) {
	if cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := cache.Delete(ctx, sessionID); err != nil {
		logger.Printf("cart cache invalidate %s: %v", sessionID, err)
	}
}
