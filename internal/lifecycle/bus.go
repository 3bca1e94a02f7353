package lifecycle

import (
	"sync"

	"go.uber.org/zap"
)

// defaultEventBuffer is the per-subscriber channel depth. Publishing never
// blocks: a subscriber that falls behind by more than this loses events.
const defaultEventBuffer = 256

// Bus fans lifecycle events out to an arbitrary number of subscribers.
// It is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	logger *zap.Logger
}

// NewBus creates an event bus. A nil logger falls back to zap.NewNop().
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[chan Event]struct{}),
		logger: logger,
	}
}

// Subscribe registers a new subscriber and returns its channel. The caller
// must eventually call Unsubscribe to release it.
func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, defaultEventBuffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	count := len(b.subs)
	b.mu.Unlock()

	b.logger.Debug("Event bus subscriber added", zap.Int("subscribers", count))
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	count := len(b.subs)
	b.mu.Unlock()

	b.logger.Debug("Event bus subscriber removed", zap.Int("subscribers", count))
}

// Publish mints an event of the given type and delivers it to every
// subscriber without blocking. The minted event is returned so callers can
// log or persist it.
func (b *Bus) Publish(eventType EventType, payload map[string]any) Event {
	event := newEvent(eventType, payload)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.logger.Warn("Event bus subscriber is slow, dropping event",
				zap.String("event_type", string(eventType)),
				zap.String("event_id", event.ID))
		}
	}
	return event
}

// SubscriberCount reports the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
