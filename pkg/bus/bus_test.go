package bus_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrowgate/conductor/pkg/bus"
	"github.com/harrowgate/conductor/pkg/eventparser"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := bus.New(4)
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer b.Unsubscribe(sub1)
	defer b.Unsubscribe(sub2)

	env := bus.AgentEventEnvelope("run-1", eventparser.Event{Kind: eventparser.KindTextMessage, Text: "hi"})
	b.Publish(env)

	for _, sub := range []bus.Subscription{sub1, sub2} {
		select {
		case got := <-sub.C:
			assert.Equal(t, "run-1", got.AgentRunID)
			assert.Equal(t, eventparser.KindTextMessage, got.Event.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for envelope")
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := bus.New(4)
	sub := b.Subscribe()
	b.Unsubscribe(sub)

	require.Equal(t, 0, b.SubscriberCount())

	b.Publish(bus.AgentEventEnvelope("run-1", eventparser.Event{Kind: eventparser.KindSystem}))

	_, ok := <-sub.C
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := bus.New(1)
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(bus.AgentEventEnvelope("run-1", eventparser.Event{Kind: eventparser.KindSystem}))
	// Buffer is now full (capacity 1); this publish must be dropped, not block.
	done := make(chan struct{})
	go func() {
		b.Publish(bus.AgentEventEnvelope("run-2", eventparser.Event{Kind: eventparser.KindSystem}))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}

	first := <-sub.C
	assert.Equal(t, "run-1", first.AgentRunID)

	select {
	case <-sub.C:
		t.Fatal("expected second envelope to have been dropped")
	default:
	}
}

func TestOperationUpdateEnvelope(t *testing.T) {
	b := bus.New(4)
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(bus.OperationUpdateEnvelope("op-1", "goal-1", "decompose", "in_progress", "working", nil))

	got := <-sub.C
	assert.Equal(t, bus.KindOperationUpdate, got.Kind)
	assert.Equal(t, "op-1", got.OperationID)
	assert.Equal(t, "goal-1", got.GoalID)
}
