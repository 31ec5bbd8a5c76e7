package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)

// Event is an outbox record written in the same transaction as the change
// it describes and relayed to the broker afterwards.
type Event struct {
	ID          int64           `json:"id"`
	EventID     string          `json:"event_id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
	SentAt      *time.Time      `json:"sent_at,omitempty"`
}

type OrderCreatedPayload struct {
	OrderID       string          `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	CustomerEmail string          `json:"customer_email"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Lines         []OrderLine     `json:"lines"`
	CreatedAt     time.Time       `json:"created_at"`
}

type OrderStatusChangedPayload struct {
	OrderID     string      `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	From        OrderStatus `json:"from"`
	To          OrderStatus `json:"to"`
	ChangedAt   time.Time   `json:"changed_at"`
}

func NewOrderCreatedEvent(eventID string, o Order) (Event, error) {
	payload, err := json.Marshal(OrderCreatedPayload{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		CustomerEmail: o.Customer.Email,
		TotalAmount:   o.TotalAmount,
		Lines:         o.Lines,
		CreatedAt:     o.CreatedAt,
	})
	if err != nil {
		return Event{}, err
	}
	return Event{
		EventID:     eventID,
		Type:        EventOrderCreated,
		AggregateID: o.ID,
		Payload:     payload,
		CreatedAt:   o.CreatedAt,
	}, nil
}

func NewOrderStatusChangedEvent(eventID string, o Order, from OrderStatus, at time.Time) (Event, error) {
	payload, err := json.Marshal(OrderStatusChangedPayload{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		From:        from,
		To:          o.Status,
		ChangedAt:   at,
	})
	if err != nil {
		return Event{}, err
	}
	return Event{
		EventID:     eventID,
		Type:        EventOrderStatusChanged,
		AggregateID: o.ID,
		Payload:     payload,
		CreatedAt:   at,
	}, nil
}
