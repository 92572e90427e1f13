// ABOUTME: Ordered, de-duplicating conversation log with block-scoped copy-on-write mutations
// ABOUTME: Every mutation produces a new store generation touching exactly one message

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/eagence-chat/internal/message"
)

var (
	// ErrNotFound is returned when no message has the requested ID.
	ErrNotFound = errors.New("message not found")
	// ErrBlockIndex is returned when a block index is outside the message.
	ErrBlockIndex = errors.New("block index out of range")
)

// Store is the conversation log. Messages are kept in receipt order and
// never re-sequenced. Readers get snapshots; the slices inside a snapshot
// are never written again, so snapshots can be shared freely.
type Store struct {
	mu         sync.RWMutex
	messages   []message.Message
	index      map[string]int // message ID -> position in messages
	generation uint64

	events *broadcaster
	logger *slog.Logger
}

// NewStore creates an empty store. Pass nil logger for default.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "conversation")
	return &Store{
		index:  make(map[string]int),
		events: newBroadcaster(logger),
		logger: logger,
	}
}

// Append adds msg at the end of the log. It returns false, and changes
// nothing, when a message with the same ID is already present.
func (s *Store) Append(msg message.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[msg.ID]; exists {
		s.logger.Debug("duplicate message ignored", "message_id", msg.ID)
		return false
	}

	next := make([]message.Message, len(s.messages), len(s.messages)+1)
	copy(next, s.messages)
	next = append(next, msg.Clone())

	s.index[msg.ID] = len(next) - 1
	s.commitLocked(next, Event{Type: EventAppended, MessageID: msg.ID, BlockIndex: -1})
	return true
}

// MutateBlock applies patch to a copy of block index of message messageID
// and stores the copy. Sibling blocks and other messages are untouched.
// The patch must not change the block's Kind or ID.
func (s *Store) MutateBlock(messageID string, index int, patch func(*message.Block)) error {
	return s.replace(messageID, EventMutated, index, func(m *message.Message) error {
		if index < 0 || index >= len(m.Blocks) {
			return fmt.Errorf("%w: %s[%d]", ErrBlockIndex, messageID, index)
		}
		blocks := append([]message.Block(nil), m.Blocks...)
		b := blocks[index].Clone()
		kind, id := b.Kind, b.ID
		patch(&b)
		b.Kind, b.ID = kind, id
		blocks[index] = b
		m.Blocks = blocks
		return nil
	})
}

// RemoveBlock drops block index from message messageID. Later blocks of the
// same message shift down by one, so indices held from an earlier generation
// are invalid afterwards; block IDs remain stable.
func (s *Store) RemoveBlock(messageID string, index int) error {
	return s.replace(messageID, EventRemoved, index, func(m *message.Message) error {
		if index < 0 || index >= len(m.Blocks) {
			return fmt.Errorf("%w: %s[%d]", ErrBlockIndex, messageID, index)
		}
		m.Blocks = withoutBlock(m.Blocks, index)
		return nil
	})
}

// RemoveBlockByID drops the block whose stable ID is blockID. The ID is
// resolved and the block removed under one write lock.
func (s *Store) RemoveBlockByID(messageID, blockID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.index[messageID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, messageID)
	}
	updated := s.messages[pos]
	idx := updated.IndexOf(blockID)
	if idx < 0 {
		return fmt.Errorf("%w: %s/%s", ErrBlockIndex, messageID, blockID)
	}
	updated.Blocks = withoutBlock(updated.Blocks, idx)
	s.storeLocked(pos, updated, Event{Type: EventRemoved, MessageID: messageID, BlockIndex: idx})
	return nil
}

func withoutBlock(blocks []message.Block, i int) []message.Block {
	out := make([]message.Block, 0, len(blocks)-1)
	out = append(out, blocks[:i]...)
	return append(out, blocks[i+1:]...)
}

// SetStatus updates the delivery status of a message.
func (s *Store) SetStatus(messageID string, status message.Status) error {
	return s.replace(messageID, EventStatus, -1, func(m *message.Message) error {
		m.Status = status
		return nil
	})
}

// replace runs edit against a copy of one message and commits a new
// generation in which only that message differs.
func (s *Store) replace(messageID string, typ EventType, blockIndex int, edit func(*message.Message) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.index[messageID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, messageID)
	}

	updated := s.messages[pos]
	if err := edit(&updated); err != nil {
		return err
	}
	s.storeLocked(pos, updated, Event{Type: typ, MessageID: messageID, BlockIndex: blockIndex})
	return nil
}

// storeLocked commits a generation in which only the message at pos differs.
func (s *Store) storeLocked(pos int, updated message.Message, ev Event) {
	next := make([]message.Message, len(s.messages))
	copy(next, s.messages)
	next[pos] = updated
	s.commitLocked(next, ev)
}

func (s *Store) commitLocked(next []message.Message, ev Event) {
	s.messages = next
	s.generation++
	ev.Generation = s.generation
	s.events.publish(ev)
}

// Snapshot returns the current messages in receipt order.
func (s *Store) Snapshot() []message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]message.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Get returns a deep copy of the message with the given ID.
func (s *Store) Get(messageID string) (message.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.index[messageID]
	if !ok {
		return message.Message{}, false
	}
	return s.messages[pos].Clone(), true
}

// Has reports whether a message with the given ID exists.
func (s *Store) Has(messageID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[messageID]
	return ok
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Generation returns a counter that increases with every committed change.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Subscribe returns a channel of change events, closed when ctx is done or
// the store is closed.
func (s *Store) Subscribe(ctx context.Context) <-chan Event {
	return s.events.subscribe(ctx)
}

// Close closes all subscriber channels.
func (s *Store) Close() {
	s.events.close()
}
