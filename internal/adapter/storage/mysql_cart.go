package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rl1809/cart-checkout/internal/core/domain"
)

type mysqlCarts struct{ q queryer }

func (r *mysqlCarts) View(ctx context.Context, sessionID string) ([]domain.CartItemView, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT c.session_id, c.product_id, c.quantity, c.added_at, p.name, p.unit_price, p.stock_count
		FROM cart_items c
		LEFT JOIN products p ON p.id = c.product_id
		WHERE c.session_id = ?
		ORDER BY c.added_at DESC, c.product_id`, sessionID)
	if err != nil {
		return nil, classify(fmt.Errorf("query cart %s: %w", sessionID, err))
	}
	defer rows.Close()

	var items []domain.CartItemView
	for rows.Next() {
		var (
			item  domain.CartItemView
			name  sql.NullString
			price decimal.NullDecimal
			stock sql.NullInt64
		)
		if err := rows.Scan(&item.SessionID, &item.ProductID, &item.Quantity, &item.AddedAt, &name, &price, &stock); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		if name.Valid {
			item.Name = name.String
			item.UnitPrice = price.Decimal
			item.StockCount = int(stock.Int64)
		} else {
			item.Unavailable = true
		}
		items = append(items, item)
	}
	return items, classify(rows.Err())
}

func (r *mysqlCarts) LinesForUpdate(ctx context.Context, sessionID string) ([]domain.CartLine, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT session_id, product_id, quantity, added_at
		FROM cart_items
		WHERE session_id = ?
		ORDER BY product_id
		FOR UPDATE`, sessionID)
	if err != nil {
		return nil, classify(fmt.Errorf("lock cart %s: %w", sessionID, err))
	}
	defer rows.Close()

	var lines []domain.CartLine
	for rows.Next() {
		var l domain.CartLine
		if err := rows.Scan(&l.SessionID, &l.ProductID, &l.Quantity, &l.AddedAt); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, classify(rows.Err())
}

func (r *mysqlCarts) LineForUpdate(ctx context.Context, sessionID string, productID int64) (*domain.CartLine, error) {
	var l domain.CartLine
	err := r.q.QueryRowContext(ctx, `
		SELECT session_id, product_id, quantity, added_at
		FROM cart_items
		WHERE session_id = ? AND product_id = ?
		FOR UPDATE`, sessionID, productID).
		Scan(&l.SessionID, &l.ProductID, &l.Quantity, &l.AddedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(fmt.Errorf("lock cart line %s/%d: %w", sessionID, productID, err))
	}
	return &l, nil
}

func (r *mysqlCarts) Merge(ctx context.Context, line domain.CartLine) (domain.CartLine, error) {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO cart_items (session_id, product_id, quantity, added_at)
		VALUES (?, ?, ?, ?) AS new
		ON DUPLICATE KEY UPDATE quantity = cart_items.quantity + new.quantity`,
		line.SessionID, line.ProductID, line.Quantity, line.AddedAt)
	if err != nil {
		return domain.CartLine{}, classify(fmt.Errorf("merge cart line %s/%d: %w", line.SessionID, line.ProductID, err))
	}

	merged, err := r.LineForUpdate(ctx, line.SessionID, line.ProductID)
	if err != nil {
		return domain.CartLine{}, err
	}
	if merged == nil {
		return domain.CartLine{}, fmt.Errorf("merge cart line %s/%d: row vanished after upsert", line.SessionID, line.ProductID)
	}
	return *merged, nil
}

func (r *mysqlCarts) Save(ctx context.Context, line domain.CartLine) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO cart_items (session_id, product_id, quantity, added_at)
		VALUES (?, ?, ?, ?) AS new
		ON DUPLICATE KEY UPDATE quantity = new.quantity`,
		line.SessionID, line.ProductID, line.Quantity, line.AddedAt)
	if err != nil {
		return classify(fmt.Errorf("save cart line %s/%d: %w", line.SessionID, line.ProductID, err))
	}
	return nil
}

func (r *mysqlCarts) Delete(ctx context.Context, sessionID string, productID int64) error {
	_, err := r.q.ExecContext(ctx,
		"DELETE FROM cart_items WHERE session_id = ? AND product_id = ?", sessionID, productID)
	if err != nil {
		return classify(fmt.Errorf("delete cart line %s/%d: %w", sessionID, productID, err))
	}
	return nil
}

func (r *mysqlCarts) Clear(ctx context.Context, sessionID string) error {
	if _, err := r.q.ExecContext(ctx, "DELETE FROM cart_items WHERE session_id = ?", sessionID); err != nil {
		return classify(fmt.Errorf("clear cart %s: %w", sessionID, err))
	}
	return nil
}
