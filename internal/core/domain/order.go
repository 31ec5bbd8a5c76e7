package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	switch st := OrderStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

// IsTerminal reports whether no transition may leave s.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransitionTo enforces the forward-only lifecycle
// pending -> processing -> shipped -> delivered, with cancelled reachable
// from pending or processing only.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// OrderLine freezes name and price at order creation. It is never rebuilt
// from the product table afterwards.
type OrderLine struct {
	OrderID     string          `json:"order_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Order struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"order_number"`
	Status          OrderStatus     `json:"status"`
	Customer        Customer        `json:"customer"`
	ShippingAddress string          `json:"shipping_address"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	ItemCount       int             `json:"item_count"`
	Lines           []OrderLine     `json:"lines,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// SnapshotLine captures the product's current name and price for a cart line.
func SnapshotLine(line CartLine, p Product) OrderLine {
	return OrderLine{
		ProductID:   line.ProductID,
		ProductName: p.Name,
		UnitPrice:   p.UnitPrice,
		Quantity:    line.Quantity,
	}
}

// NewOrder builds a pending order and computes its total from the line
// snapshots.
func NewOrder(id, number string, customer Customer, address string, lines []OrderLine, now time.Time) Order {
	total := decimal.Zero
	owned := make([]OrderLine, len(lines))
	for i, l := range lines {
		l.OrderID = id
		owned[i] = l
		total = total.Add(l.Subtotal())
	}
	return Order{
		ID:              id,
		OrderNumber:     number,
		Status:          OrderStatusPending,
		Customer:        customer,
		ShippingAddress: address,
		TotalAmount:     total,
		ItemCount:       len(owned),
		Lines:           owned,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// NewOrderNumber formats a display number from a timestamp and a random suffix.
func NewOrderNumber(now time.Time, suffix string) string {
	suffix = strings.ToUpper(strings.ReplaceAll(suffix, "-", ""))
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("ORD-%d-%s", now.UnixMilli(), suffix)
}

const (
	DefaultOrderPageLimit = 20
	MaxOrderPageLimit     = 100
)

type OrderFilter struct {
	Page   int
	Limit  int
	Status OrderStatus
}

// Normalize clamps paging to page >= 1 and 1 <= limit <= MaxOrderPageLimit.
func (f OrderFilter) Normalize() OrderFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultOrderPageLimit
	}
	if f.Limit > MaxOrderPageLimit {
		f.Limit = MaxOrderPageLimit
	}
	return f
}

func (f OrderFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

type OrderPage struct {
	Orders []Order `json:"orders"`
	Total  int     `json:"total"`
	Page   int     `json:"page"`
	Limit  int     `json:"limit"`
	Pages  int     `json:"pages"`
}

func NewOrderPage(orders []Order, total int, f OrderFilter) OrderPage {
	if orders == nil {
		orders = []Order{}
	}
	pages := 0
	if f.Limit > 0 {
		pages = (total + f.Limit - 1) / f.Limit
	}
	return OrderPage{Orders: orders, Total: total, Page: f.Page, Limit: f.Limit, Pages: pages}
}
