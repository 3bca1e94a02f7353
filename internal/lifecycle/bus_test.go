package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBus_PublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())

	first := bus.Subscribe()
	second := bus.Subscribe()
	defer bus.Unsubscribe(first)
	defer bus.Unsubscribe(second)

	require.Equal(t, 2, bus.SubscriberCount())

	published := bus.Publish(EventTypeServersChanged, map[string]any{"reason": "created"})
	assert.NotEmpty(t, published.ID)
	assert.False(t, published.Timestamp.IsZero())

	for _, ch := range []chan Event{first, second} {
		select {
		case event := <-ch:
			assert.Equal(t, published.ID, event.ID)
			assert.Equal(t, EventTypeServersChanged, event.Type)
			assert.Equal(t, "created", event.Payload["reason"])
		default:
			t.Fatal("expected event to be delivered")
		}
	}
}

func TestBus_EventIDsAreOrdered(t *testing.T) {
	bus := NewBus(zap.NewNop())

	first := bus.Publish(EventTypeToolsChanged, nil)
	second := bus.Publish(EventTypeToolsChanged, nil)

	// ULIDs sort by creation time, which lets subscribers order replays.
	assert.Less(t, first.ID, second.ID)
}

func TestBus_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus(zap.NewNop())

	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	// Nobody drains the channel: once the buffer is full, further publishes
	// must drop events for this subscriber instead of blocking.
	for i := 0; i < defaultEventBuffer+10; i++ {
		bus.Publish(EventTypeServerState, nil)
	}

	assert.Len(t, ch, defaultEventBuffer)
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(zap.NewNop())

	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, bus.SubscriberCount())

	// A second unsubscribe of the same channel is a no-op, not a panic.
	bus.Unsubscribe(ch)
}
