package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/cart-checkout/internal/core/domain"
)

const orderColumns = `id, order_number, status, customer_name, customer_email,
	shipping_address, total_amount, item_count, created_at, updated_at`

type mysqlOrders struct{ q queryer }

func (r *mysqlOrders) Create(ctx context.Context, order domain.Order) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.OrderNumber, order.Status, order.Customer.Name, order.Customer.Email,
		order.ShippingAddress, order.TotalAmount, order.ItemCount, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		if isDuplicateEntry(err) {
			return fmt.Errorf("create order %s: duplicate order: %w", order.OrderNumber, err)
		}
		return classify(fmt.Errorf("create order %s: %w", order.OrderNumber, err))
	}

	for _, l := range order.Lines {
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, unit_price, quantity)
			VALUES (?, ?, ?, ?, ?)`,
			order.ID, l.ProductID, l.ProductName, l.UnitPrice, l.Quantity)
		if err != nil {
			return classify(fmt.Errorf("create order %s line %d: %w", order.OrderNumber, l.ProductID, err))
		}
	}
	return nil
}

func (r *mysqlOrders) Get(ctx context.Context, orderID string) (domain.Order, error) {
	return r.get(ctx, orderID, "")
}

func (r *mysqlOrders) GetForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	return r.get(ctx, orderID, " FOR UPDATE")
}

func (r *mysqlOrders) get(ctx context.Context, orderID, suffix string) (domain.Order, error) {
	row := r.q.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = ?"+suffix, orderID)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, classify(fmt.Errorf("get order %s: %w", orderID, err))
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT order_id, product_id, product_name, unit_price, quantity
		FROM order_items
		WHERE order_id = ?
		ORDER BY id`, orderID)
	if err != nil {
		return domain.Order{}, classify(fmt.Errorf("get order %s lines: %w", orderID, err))
	}
	defer rows.Close()

	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.OrderID, &l.ProductID, &l.ProductName, &l.UnitPrice, &l.Quantity); err != nil {
			return domain.Order{}, fmt.Errorf("scan order line: %w", err)
		}
		order.Lines = append(order.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return domain.Order{}, classify(err)
	}
	return order, nil
}

func (r *mysqlOrders) ListByCustomer(ctx context.Context, email string) ([]domain.Order, error) {
	rows, err := r.q.QueryContext(ctx, "SELECT "+orderColumns+`
		FROM orders
		WHERE customer_email = ?
		ORDER BY created_at DESC, id`, email)
	if err != nil {
		return nil, classify(fmt.Errorf("list orders for %s: %w", email, err))
	}
	return collectOrders(rows)
}

func (r *mysqlOrders) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, int, error) {
	where, args := "", []any{}
	if filter.Status != "" {
		where = " WHERE status = ?"
		args = append(args, filter.Status)
	}

	var total int
	if err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders"+where, args...).Scan(&total); err != nil {
		return nil, 0, classify(fmt.Errorf("count orders: %w", err))
	}

	rows, err := r.q.QueryContext(ctx, "SELECT "+orderColumns+" FROM orders"+where+
		" ORDER BY created_at DESC, id LIMIT ? OFFSET ?", append(args, filter.Limit, filter.Offset())...)
	if err != nil {
		return nil, 0, classify(fmt.Errorf("list orders: %w", err))
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *mysqlOrders) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		"UPDATE orders SET status = ?, updated_at = ? WHERE id = ?", status, at, orderID)
	if err != nil {
		return classify(fmt.Errorf("update order %s status: %w", orderID, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order status rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.OrderNumber, &o.Status, &o.Customer.Name, &o.Customer.Email,
		&o.ShippingAddress, &o.TotalAmount, &o.ItemCount, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func collectOrders(rows *sql.Rows) ([]domain.Order, error) {
	defer rows.Close()
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, classify(rows.Err())
}
