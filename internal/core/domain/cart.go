package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultMaxLineQuantity is the per-line cap applied when none is configured.
const DefaultMaxLineQuantity = 999

// CartLine is one product intent in a session's cart. There is at most one
// line per (SessionID, ProductID) and Quantity is always at least 1.
type CartLine struct {
	SessionID string    `json:"session_id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"added_at"`
}

// CartItemView is a cart line joined with live product data for display.
type CartItemView struct {
	CartLine
	Name        string          `json:"name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	StockCount  int             `json:"stock_count"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Unavailable bool            `json:"unavailable,omitempty"`
}

// CartView is the read model returned by cart.view. It may be stale by the
// time checkout runs; checkout re-validates everything.
type CartView struct {
	SessionID string          `json:"session_id"`
	Lines     []CartItemView  `json:"lines"`
	Total     decimal.Decimal `json:"computed_total"`
	LineCount int             `json:"line_count"`
}

// NewCartView computes subtotals and the total. Lines whose product no
// longer exists are kept for display but do not count toward the total.
func NewCartView(sessionID string, items []CartItemView) CartView {
	view := CartView{
		SessionID: sessionID,
		Lines:     make([]CartItemView, 0, len(items)),
		Total:     decimal.Zero,
	}
	for _, item := range items {
		if item.Unavailable {
			item.Subtotal = decimal.Zero
		} else {
			item.Subtotal = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
			view.Total = view.Total.Add(item.Subtotal)
		}
		view.Lines = append(view.Lines, item)
	}
	view.LineCount = len(view.Lines)
	return view
}

// CartUpdate is the outcome of updateQuantity: either the stored line or a
// removal marker when the quantity was set to zero.
type CartUpdate struct {
	Line    *CartLine `json:"line,omitempty"`
	Removed bool      `json:"removed"`
}
