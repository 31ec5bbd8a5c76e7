package publisher

import (
	"context"
	"log"

	"github.com/rl1809/cart-checkout/internal/core/domain"
)

// LogPublisher is used when no broker is configured. Events are written to
// the log and counted as delivered.
type LogPublisher struct {
	logger *log.Logger
}

func NewLogPublisher(logger *log.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event domain.Event) error {
	p.logger.Printf("event %s %s aggregate=%s payload=%s", event.Type, event.EventID, event.AggregateID, event.Payload)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
