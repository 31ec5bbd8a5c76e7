package publisher

import (
	"bytes"
	"context"
	"errors"
	"log"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/cart-checkout/internal/core/domain"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeChannel struct {
	key  string
	msgs []amqp.Publishing
	err  error
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("publish without deadline")
	}
	c.key = key
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeChannel) Close() error { return nil }

func testEvent() domain.Event {
	return domain.Event{
		ID:          1,
		EventID:     "evt-1",
		Type:        domain.EventOrderCreated,
		AggregateID: "order-1",
		Payload:     []byte(`{"order_id":"order-1"}`),
		CreatedAt:   time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublisher_KeysByAggregate(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}

	require.NoError(t, p.Publish(context.Background(), testEvent()))
	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "order-1", string(msg.Key))
	assert.JSONEq(t, `{"order_id":"order-1"}`, string(msg.Value))
	assert.Contains(t, msg.Headers, kafka.Header{Key: "event_type", Value: []byte(domain.EventOrderCreated)})
}

func TestKafkaPublisher_WrapsWriteError(t *testing.T) {
	p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("leader not available")}}

	err := p.Publish(context.Background(), testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader not available")
}

func TestNewKafkaPublisher_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "orders")
	assert.Error(t, err)

	p, err := NewKafkaPublisher([]string{"localhost:9092"}, "orders")
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}

func TestRabbitPublisher_PersistentToQueue(t *testing.T) {
	ch := &fakeChannel{}
	p := &RabbitPublisher{ch: ch, queue: "order.events"}

	require.NoError(t, p.Publish(context.Background(), testEvent()))
	require.Len(t, ch.msgs, 1)
	assert.Equal(t, "order.events", ch.key)
	assert.Equal(t, amqp.Persistent, ch.msgs[0].DeliveryMode)
	assert.Equal(t, "evt-1", ch.msgs[0].MessageId)
	assert.Equal(t, domain.EventOrderCreated, ch.msgs[0].Type)
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(log.New(&buf, "", 0))

	require.NoError(t, p.Publish(context.Background(), testEvent()))
	assert.Contains(t, buf.String(), "order.created evt-1")
	assert.NoError(t, p.Close())
}
