package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/cart-checkout/internal/core/domain"
	"github.com/rl1809/cart-checkout/internal/port"
)

func TestCheckout_CreatesOrder(t *testing.T) {
	f := newFixture(t, product(1, "Notebook", "10.00", 5), product(2, "Pencil", "0.75", 10))
	ctx := context.Background()

	_, err := f.carts.AddItem(ctx, "s-1", 1, 2)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, "s-1", 2, 1)
	require.NoError(t, err)

	result, err := f.checkout.Checkout(ctx, buyer("s-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, result.OrderID)
	assert.Regexp(t, `^ORD-\d+-[0-9A-F]{8}$`, result.OrderNumber)
	assert.True(t, result.TotalAmount.Equal(decimal.RequireFromString("20.75")))
	assert.Equal(t, 2, result.ItemCount)

	assert.Equal(t, 3, f.stock(t, 1))
	assert.Equal(t, 9, f.stock(t, 2))

	view, err := f.carts.GetCart(ctx, "s-1")
	require.NoError(t, err)
	assert.Empty(t, view.Lines)

	order, err := f.orders.Get(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, "ada@example.com", order.Customer.Email)
	require.Len(t, order.Lines, 2)
	assert.Equal(t, int64(1), order.Lines[0].ProductID)

	events, err := f.store.Outbox().FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventOrderCreated, events[0].Type)
	assert.Equal(t, result.OrderID, events[0].AggregateID)

	var payload domain.OrderCreatedPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, result.OrderNumber, payload.OrderNumber)
}

func TestCheckout_EmptyCart(t *testing.T) {
	f := newFixture(t)

	_, err := f.checkout.Checkout(context.Background(), buyer("nobody"))
	assert.ErrorIs(t, err, domain.ErrEmptyCart)
}

func TestCheckout_ValidatesBeforeTouchingStore(t *testing.T) {
	f := newFixture(t, product(1, "Notebook", "10.00", 5))
	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, "s-1", 1, 1)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*CheckoutInput)
		want   error
	}{
		{"missing session", func(in *CheckoutInput) { in.SessionID = "" }, domain.ErrInvalidSessionID},
		{"short name", func(in *CheckoutInput) { in.Customer.Name = "A" }, domain.ErrInvalidCustomer},
		{"digits in name", func(in *CheckoutInput) { in.Customer.Name = "R2 D2" }, domain.ErrInvalidCustomer},
		{"bad email", func(in *CheckoutInput) { in.Customer.Email = "not-an-email" }, domain.ErrInvalidCustomer},
		{"short address", func(in *CheckoutInput) { in.ShippingAddress = "Nowhere" }, domain.ErrInvalidShippingAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := buyer("s-1")
			tt.mutate(&in)
			_, err := f.checkout.Checkout(ctx, in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, 5, f.stock(t, 1))
}

func TestCheckout_NeverOversells(t *testing.T) {
	f := newFixture(t, product(1, "Last Ticket", "99.00", 1))
	ctx := context.Background()

	const buyers = 10
	for i := 0; i < buyers; i++ {
		_, err := f.carts.AddItem(ctx, fmt.Sprintf("s-%d", i), 1, 1)
		require.NoError(t, err)
	}

	var succeeded, soldOut atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.checkout.Checkout(ctx, buyer(fmt.Sprintf("s-%d", i)))
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				soldOut.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(buyers-1), soldOut.Load())
	assert.Equal(t, 0, f.stock(t, 1))
}

func TestCheckout_FailedLineRollsBackEverything(t *testing.T) {
	f := newFixture(t,
		product(1, "Notebook", "10.00", 5),
		product(2, "Pencil", "0.75", 5),
		product(3, "Eraser", "1.20", 5),
	)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		_, err := f.carts.AddItem(ctx, "s-1", id, 2)
		require.NoError(t, err)
	}
	// Someone else bought most of the pencils after they went into the cart.
	require.NoError(t, f.store.Inventory().Save(ctx, product(2, "Pencil", "0.75", 1)))

	_, err := f.checkout.Checkout(ctx, buyer("s-1"))
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Contains(t, err.Error(), "Pencil")

	assert.Equal(t, 5, f.stock(t, 1))
	assert.Equal(t, 1, f.stock(t, 2))
	assert.Equal(t, 5, f.stock(t, 3))

	view, err := f.carts.GetCart(ctx, "s-1")
	require.NoError(t, err)
	assert.Len(t, view.Lines, 3)

	page, err := f.orders.List(ctx, domain.OrderFilter{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	events, err := f.store.Outbox().FetchPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestCheckout_PricesAreFrozenOnTheOrder(t *testing.T) {
	f := newFixture(t, product(1, "Notebook", "10.00", 5))
	ctx := context.Background()

	_, err := f.carts.AddItem(ctx, "s-1", 1, 2)
	require.NoError(t, err)
	result, err := f.checkout.Checkout(ctx, buyer("s-1"))
	require.NoError(t, err)

	require.NoError(t, f.store.Inventory().Save(ctx, product(1, "Notebook Deluxe", "15.00", 3)))

	order, err := f.orders.Get(ctx, result.OrderID)
	require.NoError(t, err)
	require.Len(t, order.Lines, 1)
	assert.Equal(t, "Notebook", order.Lines[0].ProductName)
	assert.True(t, order.Lines[0].UnitPrice.Equal(decimal.RequireFromString("10.00")))
	assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("20.00")))
}

func TestCheckout_ChargesCurrentPrice(t *testing.T) {
	f := newFixture(t, product(1, "Notebook", "10.00", 5))
	ctx := context.Background()

	_, err := f.carts.AddItem(ctx, "s-1", 1, 1)
	require.NoError(t, err)
	require.NoError(t, f.store.Inventory().Save(ctx, product(1, "Notebook", "12.00", 5)))

	result, err := f.checkout.Checkout(ctx, buyer("s-1"))
	require.NoError(t, err)
	assert.True(t, result.TotalAmount.Equal(decimal.RequireFromString("12.00")))
}

func TestCheckout_TimeoutIsTransient(t *testing.T) {
	f := newFixture(t, product(1, "Notebook", "10.00", 5))
	checkout := NewCheckoutService(stallingStore{f.store}, nil, nil, f.clock, nil, f.logger, 20*time.Millisecond)

	_, err := checkout.Checkout(context.Background(), buyer("s-1"))
	require.ErrorIs(t, err, domain.ErrTransientStore)
	assert.True(t, domain.IsRetryable(err))
}

func TestCheckout_IdempotencyKey(t *testing.T) {
	f := newFixture(t, product(1, "Notebook", "10.00", 5))
	guard := newMemGuard()
	checkout := NewCheckoutService(f.store, nil, guard, f.clock, nil, f.logger, time.Second)
	ctx := context.Background()

	in := buyer("s-1")
	in.IdempotencyKey = "key-1"

	t.Run("failed attempt can be retried", func(t *testing.T) {
		_, err := checkout.Checkout(ctx, in)
		require.ErrorIs(t, err, domain.ErrEmptyCart)
		assert.NotContains(t, guard.pending, "key-1")
	})

	_, err := f.carts.AddItem(ctx, "s-1", 1, 1)
	require.NoError(t, err)

	first, err := checkout.Checkout(ctx, in)
	require.NoError(t, err)

	t.Run("replay returns the first result", func(t *testing.T) {
		again, err := checkout.Checkout(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, first.OrderID, again.OrderID)
		assert.Equal(t, 4, f.stock(t, 1))
	})

	t.Run("in-flight duplicate is rejected", func(t *testing.T) {
		ok, err := guard.Acquire(ctx, "key-2")
		require.NoError(t, err)
		require.True(t, ok)

		dup := buyer("s-1")
		dup.IdempotencyKey = "key-2"
		_, err = checkout.Checkout(ctx, dup)
		assert.ErrorIs(t, err, domain.ErrDuplicateCheckout)
	})
}

func TestCheckout_DuplicateFinishedBeforeAcquireIsReplayed(t *testing.T) {
	f := newFixture(t, product(1, "Notebook", "10.00", 5))
	_, err := f.carts.AddItem(context.Background(), "s-1", 1, 1)
	require.NoError(t, err)

	winner := port.CheckoutResult{OrderID: "o-winner", OrderNumber: "ORD-WINNER"}
	guard := finishingGuard{memGuard: newMemGuard(), result: winner}
	checkout := NewCheckoutService(f.store, nil, guard, f.clock, nil, f.logger, time.Second)

	in := buyer("s-1")
	in.IdempotencyKey = "key-race"
	res, err := checkout.Checkout(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, winner.OrderID, res.OrderID)
	assert.Equal(t, 5, f.stock(t, 1))
}
