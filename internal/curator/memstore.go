package curator

import (
	"context"
	"sync"

	"github.com/virelang/coordination/internal/bus"
)

// MemStore is an in-memory Store used when the daemon runs without
// PostgreSQL and throughout the unit tests. Append order is scan order.
type MemStore struct {
	mu   sync.RWMutex
	msgs []*bus.Message
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

// AppendMessage records one message.
func (s *MemStore) AppendMessage(_ context.Context, msg *bus.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg.Clone())
	return nil
}

// MessagesByTopic returns messages for one topic in append order. A
// non-positive limit returns everything.
func (s *MemStore) MessagesByTopic(_ context.Context, topic string, limit int) ([]*bus.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*bus.Message
	for _, m := range s.msgs {
		if m.Topic == topic {
			out = append(out, m.Clone())
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// RecentMessages returns the newest messages across all topics, oldest
// first.
func (s *MemStore) RecentMessages(_ context.Context, limit int) ([]*bus.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if limit > 0 && len(s.msgs) > limit {
		start = len(s.msgs) - limit
	}
	out := make([]*bus.Message, 0, len(s.msgs)-start)
	for _, m := range s.msgs[start:] {
		out = append(out, m.Clone())
	}
	return out, nil
}

// Len reports the number of stored messages.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}
