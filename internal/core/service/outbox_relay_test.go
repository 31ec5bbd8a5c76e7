package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxRelay_Flush(t *testing.T) {
	f := newFixture(t, product(1, "Notebook", "10.00", 10))
	ctx := context.Background()
	placeOrder(t, f, "s-1", 1, 1)
	placeOrder(t, f, "s-2", 1, 1)

	pending, err := f.store.Outbox().FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	pub := &recordingPublisher{failOn: pending[0].EventID}
	relay := NewOutboxRelay(f.store.Outbox(), pub, f.clock, nil, f.logger, time.Second, 10)

	assert.Equal(t, 1, relay.Flush(ctx))
	require.Len(t, pub.published, 1)
	assert.Equal(t, pending[1].EventID, pub.published[0].EventID)

	// The failed event stays pending and goes out once the broker recovers.
	pub.failOn = ""
	assert.Equal(t, 1, relay.Flush(ctx))
	assert.Equal(t, 0, relay.Flush(ctx))

	left, err := f.store.Outbox().FetchPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestOutboxRelay_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t, product(1, "Notebook", "10.00", 10))
	placeOrder(t, f, "s-1", 1, 1)

	pub := &recordingPublisher{}
	relay := NewOutboxRelay(f.store.Outbox(), pub, f.clock, nil, f.logger, 5*time.Millisecond, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.published) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
