package port

import (
	"context"
	"time"

	"github.com/rl1809/cart-checkout/internal/core/domain"
)

// Repositories groups the per-table repositories bound to one connection
// scope: either the pool or a single open transaction.
type Repositories interface {
	Carts() CartRepository
	Inventory() InventoryRepository
	Orders() OrderRepository
	Outbox() OutboxRepository
}

// Store is the relational store. WithTx runs fn inside one transaction and
// commits only when fn returns nil; any error or panic rolls back. Lock waits
// are bounded by ctx and surface as domain.ErrTransientStore.
type Store interface {
	Repositories
	WithTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

type CartRepository interface {
	// View joins the session's lines with live product data, newest first.
	View(ctx context.Context, sessionID string) ([]domain.CartItemView, error)

	// LinesForUpdate returns the session's lines ordered by product id and
	// locks them until the transaction ends.
	LinesForUpdate(ctx context.Context, sessionID string) ([]domain.CartLine, error)

	// LineForUpdate returns nil when the session has no line for productID.
	LineForUpdate(ctx context.Context, sessionID string, productID int64) (*domain.CartLine, error)

	// Merge adds line.Quantity to the stored line in one statement, creating
	// it with line.AddedAt if absent, and returns the stored result locked
	// until the transaction ends.
	Merge(ctx context.Context, line domain.CartLine) (domain.CartLine, error)

	// Save inserts the line or replaces the stored quantity.
	Save(ctx context.Context, line domain.CartLine) error

	Delete(ctx context.Context, sessionID string, productID int64) error
	Clear(ctx context.Context, sessionID string) error
}

type InventoryRepository interface {
	// Get returns domain.ErrProductNotFound when the product does not exist.
	Get(ctx context.Context, productID int64) (domain.Product, error)

	// LockProducts reads the given products with row locks taken in ascending
	// id order. Missing ids are absent from the result.
	LockProducts(ctx context.Context, productIDs []int64) (map[int64]domain.Product, error)

	// DecrementAtomic subtracts quantity only if stock_count >= quantity at the
	// moment of the write; otherwise it returns domain.ErrInsufficientStock.
	DecrementAtomic(ctx context.Context, productID int64, quantity int) error

	// Increment returns stock, e.g. when an order is cancelled. Products that
	// no longer exist are skipped.
	Increment(ctx context.Context, productID int64, quantity int) error

	// Save upserts a product row (operator surface and fixtures).
	Save(ctx context.Context, p domain.Product) error
}

type OrderRepository interface {
	// Create persists the order and all of its lines.
	Create(ctx context.Context, order domain.Order) error

	// Get returns the order with its lines or domain.ErrOrderNotFound.
	Get(ctx context.Context, orderID string) (domain.Order, error)

	// GetForUpdate is Get with a row lock on the order.
	GetForUpdate(ctx context.Context, orderID string) (domain.Order, error)

	ListByCustomer(ctx context.Context, email string) ([]domain.Order, error)
	List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, int, error)
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, at time.Time) error
}

type OutboxRepository interface {
	Append(ctx context.Context, event domain.Event) error
	FetchPending(ctx context.Context, limit int) ([]domain.Event, error)
	MarkSent(ctx context.Context, id int64, at time.Time) error
}
