package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/cart-checkout/internal/core/domain"
)

func TestInventoryUpsert(t *testing.T) {
	f := newFixture(t)
	inventory := NewInventoryService(f.store, f.clock, f.logger)
	ctx := context.Background()

	p, err := inventory.Upsert(ctx, 7, ProductInput{Name: "  Stapler ", UnitPrice: decimal.RequireFromString("8.25"), StockCount: 4})
	require.NoError(t, err)
	assert.Equal(t, "Stapler", p.Name)
	assert.Equal(t, testNow, p.UpdatedAt)

	got, err := inventory.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 4, got.StockCount)

	tests := []struct {
		name string
		id   int64
		in   ProductInput
		want error
	}{
		{"bad id", 0, ProductInput{Name: "X", StockCount: 1}, domain.ErrInvalidProductID},
		{"no name", 7, ProductInput{Name: " ", StockCount: 1}, domain.ErrInvalidProduct},
		{"negative price", 7, ProductInput{Name: "X", UnitPrice: decimal.NewFromInt(-1)}, domain.ErrInvalidProduct},
		{"sub-cent price", 7, ProductInput{Name: "X", UnitPrice: decimal.RequireFromString("1.005")}, domain.ErrInvalidProduct},
		{"negative stock", 7, ProductInput{Name: "X", StockCount: -1}, domain.ErrInvalidQuantity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := inventory.Upsert(ctx, tt.id, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err = inventory.Get(ctx, 8)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}
