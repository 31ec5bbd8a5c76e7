package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rl1809/cart-checkout/internal/core/domain"
)

const productColumns = "id, name, unit_price, stock_count, updated_at"

type mysqlInventory struct{ q queryer }

func (r *mysqlInventory) Get(ctx context.Context, productID int64) (domain.Product, error) {
	var p domain.Product
	err := r.q.QueryRowContext(ctx, "SELECT "+productColumns+" FROM products WHERE id = ?", productID).
		Scan(&p.ID, &p.Name, &p.UnitPrice, &p.StockCount, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, fmt.Errorf("%w: id %d", domain.ErrProductNotFound, productID)
	}
	if err != nil {
		return domain.Product{}, classify(fmt.Errorf("get product %d: %w", productID, err))
	}
	return p, nil
}

// LockProducts relies on the primary key scan of an ordered IN list, which
// makes InnoDB take the row locks in ascending id order.
func (r *mysqlInventory) LockProducts(ctx context.Context, productIDs []int64) (map[int64]domain.Product, error) {
	out := make(map[int64]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}

	args := make([]any, len(productIDs))
	for i, id := range productIDs {
		args[i] = id
	}
	query := "SELECT " + productColumns + " FROM products WHERE id IN (" +
		placeholders(len(productIDs)) + ") ORDER BY id FOR UPDATE"

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("lock products: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.UnitPrice, &p.StockCount, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out[p.ID] = p
	}
	return out, classify(rows.Err())
}

// DecrementAtomic is a single conditional UPDATE: the stock check and the
// write happen in one statement, so no interleaving can take stock below
// zero even without a prior lock.
func (r *mysqlInventory) DecrementAtomic(ctx context.Context, productID int64, quantity int) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE products
		SET stock_count = stock_count - ?, updated_at = CURRENT_TIMESTAMP(6)
		WHERE id = ? AND stock_count >= ?`, quantity, productID, quantity)
	if err != nil {
		return classify(fmt.Errorf("decrement product %d: %w", productID, err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decrement rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = r.q.QueryRowContext(ctx, "SELECT 1 FROM products WHERE id = ?", productID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: id %d", domain.ErrProductNotFound, productID)
	}
	if err != nil {
		return classify(fmt.Errorf("check product %d: %w", productID, err))
	}
	return domain.ErrInsufficientStock
}

func (r *mysqlInventory) Increment(ctx context.Context, productID int64, quantity int) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE products
		SET stock_count = stock_count + ?, updated_at = CURRENT_TIMESTAMP(6)
		WHERE id = ?`, quantity, productID)
	if err != nil {
		return classify(fmt.Errorf("increment product %d: %w", productID, err))
	}
	return nil
}

func (r *mysqlInventory) Save(ctx context.Context, p domain.Product) error {
	if p.StockCount < 0 {
		return fmt.Errorf("%w: stock count must not be negative", domain.ErrInvalidQuantity)
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO products (id, name, unit_price, stock_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name = VALUES(name),
			unit_price = VALUES(unit_price),
			stock_count = VALUES(stock_count),
			updated_at = VALUES(updated_at)`,
		p.ID, p.Name, p.UnitPrice, p.StockCount, p.UpdatedAt)
	if err != nil {
		return classify(fmt.Errorf("save product %d: %w", p.ID, err))
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
