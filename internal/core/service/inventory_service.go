package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rl1809/cart-checkout/internal/clock"
	"github.com/rl1809/cart-checkout/internal/core/domain"
	"github.com/rl1809/cart-checkout/internal/port"
)

// ProductInput is an operator edit of a catalog row.
type ProductInput struct {
	Name       string
	UnitPrice  decimal.Decimal
	StockCount int
}

// InventoryService is the operator surface over the product table. Carts
// and checkout read products through the store directly.
type InventoryService struct {
	store  port.Store
	clock  clock.Clock
	logger *log.Logger
}

func NewInventoryService(store port.Store, clk clock.Clock, logger *log.Logger) *InventoryService {
	return &InventoryService{store: store, clock: clk, logger: logger}
}

func (s *InventoryService) Get(ctx context.Context, productID int64) (domain.Product, error) {
	if err := domain.ValidateProductID(productID); err != nil {
		return domain.Product{}, err
	}
	return s.store.Inventory().Get(ctx, productID)
}

// Upsert creates or replaces a product. Price changes never touch existing
// order lines.
func (s *InventoryService) Upsert(ctx context.Context, productID int64, in ProductInput) (domain.Product, error) {
	if err := domain.ValidateProductID(productID); err != nil {
		return domain.Product{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Product{}, fmt.Errorf("%w: name is required", domain.ErrInvalidProduct)
	}
	if in.UnitPrice.IsNegative() {
		return domain.Product{}, fmt.Errorf("%w: unit price must not be negative", domain.ErrInvalidProduct)
	}
	if !in.UnitPrice.Equal(in.UnitPrice.Round(2)) {
		return domain.Product{}, fmt.Errorf("%w: unit price has more than 2 decimal places", domain.ErrInvalidProduct)
	}
	if in.StockCount < 0 {
		return domain.Product{}, fmt.Errorf("%w: stock count must not be negative", domain.ErrInvalidQuantity)
	}

	p := domain.Product{
		ID:         productID,
		Name:       name,
		UnitPrice:  in.UnitPrice,
		StockCount: in.StockCount,
		UpdatedAt:  s.clock.Now(),
	}
	if err := s.store.Inventory().Save(ctx, p); err != nil {
		return domain.Product{}, err
	}
	s.logger.Printf("product %d: price %s, stock %d", p.ID, p.UnitPrice.StringFixed(2), p.StockCount)
	return p, nil
}
