// ABOUTME: In-memory conversation store for tests and ephemeral runs
// ABOUTME: Hands out snapshots so callers never alias live map entries

package store

import (
	"context"
	"sync"

	"github.com/2389/parley-gateway/internal/chat"
)

// MemoryStore implements the conversation store with a map. Safe for
// concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]chat.Conversation
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]chat.Conversation)}
}

// Save stores a snapshot of the conversation.
func (s *MemoryStore) Save(_ context.Context, conv *chat.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[conv.ID] = conv.Snapshot()
	return nil
}

// Load returns a copy of the conversation, or chat.ErrNotFound.
func (s *MemoryStore) Load(_ context.Context, conversationID string) (*chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.convs[conversationID]
	if !ok {
		return nil, chat.ErrNotFound
	}
	cp := conv.Snapshot()
	return &cp, nil
}

// FindByParticipant scans for conversations the participant is attached to.
// Ordering is left to the query layer.
func (s *MemoryStore) FindByParticipant(_ context.Context, participantID string) ([]*chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*chat.Conversation
	for _, conv := range s.convs {
		if _, ok := conv.Participant(participantID); ok {
			cp := conv.Snapshot()
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }
