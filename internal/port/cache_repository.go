package port

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/rl1809/cart-checkout/internal/core/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// CartCache holds rendered cart views. Every mutation of a session bumps the
// session's generation and drops its entry; a view computed under an older
// generation is never stored.
type CartCache interface {
	Get(ctx context.Context, sessionID string) (*domain.CartView, error)

	// Generation returns the session's current generation. Read it before
	// loading the view that will be passed to Set.
	Generation(ctx context.Context, sessionID string) (int64, error)

	// Set stores view only if the session is still at generation gen.
	Set(ctx context.Context, sessionID string, gen int64, view domain.CartView) error

	// Delete bumps the generation and drops the cached view.
	Delete(ctx context.Context, sessionID string) error
}

// CheckoutResult is what checkout returns to the caller.
type CheckoutResult struct {
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	ItemCount   int             `json:"item_count"`
}

// CheckoutGuard deduplicates checkout submissions that carry the same
// idempotency key.
type CheckoutGuard interface {
	// Acquire returns false if another request already holds key.
	Acquire(ctx context.Context, key string) (bool, error)

	// Release frees key after a failed attempt so the caller can retry.
	Release(ctx context.Context, key string) error

	// Remember stores the result of a successful checkout under key.
	Remember(ctx context.Context, key string, result CheckoutResult) error

	// Recall returns nil, nil when nothing is stored for key.
	Recall(ctx context.Context, key string) (*CheckoutResult, error)
}

// EventPublisher delivers outbox events to a broker.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
	Close() error
}
