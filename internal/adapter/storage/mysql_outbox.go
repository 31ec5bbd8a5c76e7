package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rl1809/cart-checkout/internal/core/domain"
)

type mysqlOutbox struct{ q queryer }

func (r *mysqlOutbox) Append(ctx context.Context, event domain.Event) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO outbox (event_id, event_type, aggregate_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		event.EventID, event.Type, event.AggregateID, []byte(event.Payload), event.CreatedAt)
	if err != nil {
		return classify(fmt.Errorf("append %s event: %w", event.Type, err))
	}
	return nil
}

func (r *mysqlOutbox) FetchPending(ctx context.Context, limit int) ([]domain.Event, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, event_id, event_type, aggregate_id, payload, created_at
		FROM outbox
		WHERE sent_at IS NULL
		ORDER BY id
		LIMIT ?`, limit)
	if err != nil {
		return nil, classify(fmt.Errorf("fetch pending events: %w", err))
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			e       domain.Event
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.EventID, &e.Type, &e.AggregateID, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Payload = payload
		events = append(events, e)
	}
	return events, classify(rows.Err())
}

func (r *mysqlOutbox) MarkSent(ctx context.Context, id int64, at time.Time) error {
	_, err := r.q.ExecContext(ctx, "UPDATE outbox SET sent_at = ? WHERE id = ?", sql.NullTime{Time: at, Valid: true}, id)
	if err != nil {
		return classify(fmt.Errorf("mark event %d sent: %w", id, err))
	}
	return nil
}
