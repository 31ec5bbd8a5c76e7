package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/rl1809/cart-checkout/internal/clock"
	"github.com/rl1809/cart-checkout/internal/core/domain"
	"github.com/rl1809/cart-checkout/internal/metrics"
	"github.com/rl1809/cart-checkout/internal/port"
)

type OrderService struct {
	store   port.Store
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *log.Logger
	newID   func() string
}

func NewOrderService(store port.Store, clk clock.Clock, m *metrics.Metrics, logger *log.Logger) *OrderService {
	return &OrderService{
		store:   store,
		clock:   clk,
		metrics: m,
		logger:  logger,
		newID:   uuid.NewString,
	}
}

func (s *OrderService) Get(ctx context.Context, orderID string) (domain.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return s.store.Orders().Get(ctx, orderID)
}

// ListByCustomer returns the customer's orders newest first, without lines.
func (s *OrderService) ListByCustomer(ctx context.Context, email string) ([]domain.Order, error) {
	email, err := domain.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	orders, err := s.store.Orders().ListByCustomer(ctx, email)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return orders, nil
}

func (s *OrderService) List(ctx context.Context, filter domain.OrderFilter) (domain.OrderPage, error) {
	filter = filter.Normalize()
	orders, total, err := s.store.Orders().List(ctx, filter)
	if err != nil {
		return domain.OrderPage{}, err
	}
	return domain.NewOrderPage(orders, total, filter), nil
}

// UpdateStatus moves the order along its lifecycle. Cancelling returns the
// ordered quantities to stock in the same transaction. Setting the status the
// order already has is a no-op.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID string, next domain.OrderStatus) (order domain.Order, err error) {
	next, err = domain.ParseOrderStatus(string(next))
	if err != nil {
		s.metrics.StatusChange("invalid", err)
		return domain.Order{}, err
	}
	defer func() { s.metrics.StatusChange(string(next), err) }()

	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, repos port.Repositories) error {
		current, err := repos.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		order = current
		if current.Status == next {
			return nil
		}
		if !current.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidStatusTransition, current.Status, next)
		}

		if next == domain.OrderStatusCancelled {
			for _, l := range current.Lines {
				if err := repos.Inventory().Increment(ctx, l.ProductID, l.Quantity); err != nil {
					return fmt.Errorf("restock product %d: %w", l.ProductID, err)
				}
			}
		}

		now := s.clock.Now()
		if err := repos.Orders().UpdateStatus(ctx, orderID, next, now); err != nil {
			return err
		}
		order.Status = next
		order.UpdatedAt = now

		event, err := domain.NewOrderStatusChangedEvent(s.newID(), order, current.Status, now)
		if err != nil {
			return fmt.Errorf("build order.status_changed event: %w", err)
		}
		return repos.Outbox().Append(ctx, event)
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger.Printf("order %s: status %s", order.OrderNumber, order.Status)
	return order, nil
}
