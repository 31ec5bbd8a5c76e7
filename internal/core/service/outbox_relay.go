package service

import (
	"context"
	"log"
	"time"

	"github.com/rl1809/cart-checkout/internal/clock"
	"github.com/rl1809/cart-checkout/internal/metrics"
	"github.com/rl1809/cart-checkout/internal/port"
)

// OutboxRelay forwards events committed alongside orders to the broker.
// Delivery is at-least-once: an event is marked sent only after Publish
// succeeds.
type OutboxRelay struct {
	outbox    port.OutboxRepository
	publisher port.EventPublisher
	clock     clock.Clock
	metrics   *metrics.Metrics
	logger    *log.Logger
	interval  time.Duration
	batch     int
}

func NewOutboxRelay(outbox port.OutboxRepository, publisher port.EventPublisher, clk clock.Clock, m *metrics.Metrics, logger *log.Logger, interval time.Duration, batch int) *OutboxRelay {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &OutboxRelay{
		outbox:    outbox,
		publisher: publisher,
		clock:     clk,
		metrics:   m,
		logger:    logger,
		interval:  interval,
		batch:     batch,
	}
}

// Run polls until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Flush(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Flush relays one batch of pending events and returns how many were sent.
func (r *OutboxRelay) Flush(ctx context.Context) int {
	events, err := r.outbox.FetchPending(ctx, r.batch)
	if err != nil {
		r.logger.Printf("outbox: fetch pending: %v", err)
		return 0
	}

	sent := 0
	for _, event := range events {
		err := r.publisher.Publish(ctx, event)
		r.metrics.OutboxPublished(err)
		if err != nil {
			r.logger.Printf("outbox: publish %s %s: %v", event.Type, event.EventID, err)
			continue
		}
		if err := r.outbox.MarkSent(ctx, event.ID, r.clock.Now()); err != nil {
			r.logger.Printf("outbox: mark %s sent: %v", event.EventID, err)
			continue
		}
		sent++
	}
	return sent
}
