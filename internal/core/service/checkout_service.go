package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/cart-checkout/internal/clock"
	"github.com/rl1809/cart-checkout/internal/core/domain"
	"github.com/rl1809/cart-checkout/internal/metrics"
	"github.com/rl1809/cart-checkout/internal/port"
)

const defaultCheckoutTimeout = 5 * time.Second

type CheckoutInput struct {
	SessionID       string
	Customer        domain.Customer
	ShippingAddress string
	// IdempotencyKey is optional. When set, a repeated submission returns the
	// first result instead of creating a second order.
	IdempotencyKey string
}

type CheckoutService struct {
	store   port.Store
	cache   port.CartCache
	guard   port.CheckoutGuard
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *log.Logger
	timeout time.Duration
	newID   func() string
}

// NewCheckoutService builds the transaction engine. cache, guard and m may be
// nil. timeout bounds the whole transaction including lock waits.
func NewCheckoutService(store port.Store, cache port.CartCache, guard port.CheckoutGuard, clk clock.Clock, m *metrics.Metrics, logger *log.Logger, timeout time.Duration) *CheckoutService {
	if timeout <= 0 {
		timeout = defaultCheckoutTimeout
	}
	return &CheckoutService{
		store:   store,
		cache:   cache,
		guard:   guard,
		clock:   clk,
		metrics: m,
		logger:  logger,
		timeout: timeout,
		newID:   uuid.NewString,
	}
}

// Checkout converts the session's cart into an order in one transaction:
// the cart is read and locked, every line is priced from the current product
// row, stock is decremented with a conditional update, the order and its
// lines are written and the cart is cleared. Any failure rolls everything
// back and leaves cart and stock as they were.
func (s *CheckoutService) Checkout(ctx context.Context, in CheckoutInput) (port.CheckoutResult, error) {
	start := time.Now()

	customer, address, err := s.validate(in)
	if err != nil {
		s.metrics.Checkout(checkoutOutcome(err), time.Since(start))
		return port.CheckoutResult{}, err
	}

	if in.IdempotencyKey != "" && s.guard != nil {
		prior, err := s.guard.Recall(ctx, in.IdempotencyKey)
		if err != nil {
			return port.CheckoutResult{}, fmt.Errorf("idempotency recall failed: %w", err)
		}
		if prior != nil {
			s.metrics.Checkout("replayed", time.Since(start))
			return *prior, nil
		}

		ok, err := s.guard.Acquire(ctx, in.IdempotencyKey)
		if err != nil {
			return port.CheckoutResult{}, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			// The holder may have finished between Recall and Acquire.
			if prior, err := s.guard.Recall(ctx, in.IdempotencyKey); err == nil && prior != nil {
				s.metrics.Checkout("replayed", time.Since(start))
				return *prior, nil
			}
			s.metrics.Checkout(checkoutOutcome(domain.ErrDuplicateCheckout), time.Since(start))
			return port.CheckoutResult{}, domain.ErrDuplicateCheckout
		}
	}

	order, err := s.placeOrder(ctx, in.SessionID, customer, address)
	s.metrics.Checkout(checkoutOutcome(err), time.Since(start))
	if err != nil {
		if in.IdempotencyKey != "" && s.guard != nil {
			if relErr := s.guard.Release(context.Background(), in.IdempotencyKey); relErr != nil {
				s.logger.Printf("checkout %s: release idempotency key: %v", in.SessionID, relErr)
			}
		}
		if !domain.IsValidation(err) {
			s.logger.Printf("checkout %s failed: %v", in.SessionID, err)
		}
		return port.CheckoutResult{}, err
	}

	result := port.CheckoutResult{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		TotalAmount: order.TotalAmount,
		ItemCount:   order.ItemCount,
	}

	if in.IdempotencyKey != "" && s.guard != nil {
		if err := s.guard.Remember(context.Background(), in.IdempotencyKey, result); err != nil {
			s.logger.Printf("checkout %s: remember result for %s: %v", in.SessionID, order.OrderNumber, err)
		}
	}
	invalidateCart(s.cache, s.logger, in.SessionID)

	s.logger.Printf("checkout %s: created order %s (%d lines, total %s)",
		in.SessionID, order.OrderNumber, order.ItemCount, order.TotalAmount.StringFixed(2))
	return result, nil
}

func (s *CheckoutService) validate(in CheckoutInput) (domain.Customer, string, error) {
	if err := domain.ValidateSessionID(in.SessionID); err != nil {
		return domain.Customer{}, "", err
	}
	customer, err := domain.NormalizeCustomer(in.Customer)
	if err != nil {
		return domain.Customer{}, "", err
	}
	address, err := domain.NormalizeShippingAddress(in.ShippingAddress)
	if err != nil {
		return domain.Customer{}, "", err
	}
	return customer, address, nil
}

func (s *CheckoutService) placeOrder(ctx context.Context, sessionID string, customer domain.Customer, address string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var order domain.Order
	err := s.store.WithTx(ctx, func(ctx context.Context, repos port.Repositories) error {
		lines, err := repos.Carts().LinesForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return domain.ErrEmptyCart
		}

		// Lock order is ascending product id in every checkout so two carts
		// sharing products cannot deadlock on each other.
		sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
		ids := make([]int64, len(lines))
		for i, l := range lines {
			ids[i] = l.ProductID
		}

		products, err := repos.Inventory().LockProducts(ctx, ids)
		if err != nil {
			return err
		}

		snapshots := make([]domain.OrderLine, 0, len(lines))
		for _, l := range lines {
			p, ok := products[l.ProductID]
			if !ok {
				return fmt.Errorf("%w: id %d", domain.ErrProductNotFound, l.ProductID)
			}
			snapshots = append(snapshots, domain.SnapshotLine(l, p))
		}

		for _, sl := range snapshots {
			if err := repos.Inventory().DecrementAtomic(ctx, sl.ProductID, sl.Quantity); err != nil {
				if errors.Is(err, domain.ErrInsufficientStock) {
					return fmt.Errorf("%w for %s: requested %d, available %d",
						domain.ErrInsufficientStock, sl.ProductName, sl.Quantity, products[sl.ProductID].StockCount)
				}
				return err
			}
		}

		now := s.clock.Now()
		id := s.newID()
		order = domain.NewOrder(id, domain.NewOrderNumber(now, s.newID()), customer, address, snapshots, now)
		if err := repos.Orders().Create(ctx, order); err != nil {
			return err
		}

		event, err := domain.NewOrderCreatedEvent(s.newID(), order)
		if err != nil {
			return fmt.Errorf("build order.created event: %w", err)
		}
		if err := repos.Outbox().Append(ctx, event); err != nil {
			return err
		}

		return repos.Carts().Clear(ctx, sessionID)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrTransientStore) {
			err = fmt.Errorf("%w: checkout timed out: %v", domain.ErrTransientStore, err)
		}
		return domain.Order{}, err
	}
	return order, nil
}

func checkoutOutcome(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, domain.ErrTransientStore):
		return "transient"
	case errors.Is(err, domain.ErrDuplicateCheckout):
		return "duplicate"
	case domain.IsValidation(err):
		return "invalid"
	default:
		return "error"
	}
}
