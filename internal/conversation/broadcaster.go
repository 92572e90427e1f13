// ABOUTME: In-memory fan-out of conversation store change events to UI observers
// ABOUTME: Non-blocking publish; slow subscribers lose events rather than stalling the store

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// EventType names the kind of change a store generation introduced.
type EventType string

const (
	EventAppended EventType = "appended"
	EventMutated  EventType = "mutated"
	EventRemoved  EventType = "removed"
	EventStatus   EventType = "status"
)

// Event describes one store change. BlockIndex is -1 for message-level changes.
type Event struct {
	Type       EventType
	MessageID  string
	BlockIndex int
	Generation uint64
}

// broadcaster delivers store events to every registered subscriber.
type broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event // subID -> ch
	closed      bool
	logger      *slog.Logger
}

func newBroadcaster(logger *slog.Logger) *broadcaster {
	return &broadcaster{
		subscribers: make(map[string]chan Event),
		logger:      logger,
	}
}

// subscribe registers a subscriber that is removed when ctx is cancelled.
func (b *broadcaster) subscribe(ctx context.Context) <-chan Event {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.unsubscribe(subID)
	}()

	return ch
}

// publish sends ev to every subscriber without blocking.
func (b *broadcaster) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"sub_id", subID,
				"message_id", ev.MessageID,
				"generation", ev.Generation)
		}
	}
}

func (b *broadcaster) unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// close closes every subscriber channel. Later subscriptions get a closed channel.
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}
	b.closed = true
}
