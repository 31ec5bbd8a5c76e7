package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog row the engine reads for pricing and stock.
// StockCount never goes below zero after a committed operation.
type Product struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	StockCount int             `json:"stock_count"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Availability is the result of an advisory stock check. It reserves nothing.
type Availability struct {
	ProductID int64 `json:"product_id"`
	Requested int   `json:"requested"`
	Remaining int   `json:"remaining"`
	Available bool  `json:"available"`
}

func NewAvailability(productID int64, requested, stock int) Availability {
	return Availability{
		ProductID: productID,
		Requested: requested,
		Remaining: stock,
		Available: requested <= stock,
	}
}
