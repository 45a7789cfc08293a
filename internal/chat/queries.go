// ABOUTME: Read-only query handlers over conversation projections
// ABOUTME: Never mutate state and never touch the event bus

package chat

import (
	"context"
	"fmt"
	"sort"
)

// SessionResolver resolves a session handle to its owning user. Satisfied by
// the session registry.
type SessionResolver interface {
	UserFor(handleID string) (string, bool)
}

// Queries answers read-only lookups. All results are snapshots; callers
// cannot reach live aggregate state through them.
type Queries struct {
	store    Store
	sessions SessionResolver
}

// NewQueries creates the query service.
func NewQueries(store Store, sessions SessionResolver) *Queries {
	return &Queries{store: store, sessions: sessions}
}

// FindConversationsByParticipant returns the participant's conversations
// ordered most-recent-activity first, ties broken by conversation id
// ascending so the ordering is deterministic.
func (q *Queries) FindConversationsByParticipant(ctx context.Context, participantID string) ([]*Conversation, error) {
	convs, err := q.store.FindByParticipant(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("finding conversations for %s: %w", participantID, err)
	}

	sort.Slice(convs, func(i, j int) bool {
		ai, aj := convs[i].LastActivityAt(), convs[j].LastActivityAt()
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return convs[i].ID < convs[j].ID
	})
	return convs, nil
}

// FindOneConversationByParticipant returns the participant's most recently
// active conversation, or ErrNotFound if they have none.
func (q *Queries) FindOneConversationByParticipant(ctx context.Context, participantID string) (*Conversation, error) {
	convs, err := q.FindConversationsByParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return nil, ErrNotFound
	}
	return convs[0], nil
}

// FindUserBySessionHandle returns the user owning a live session handle, or
// ErrNotFound if the handle is stale or unknown.
func (q *Queries) FindUserBySessionHandle(ctx context.Context, handleID string) (string, error) {
	userID, ok := q.sessions.UserFor(handleID)
	if !ok {
		return "", ErrNotFound
	}
	return userID, nil
}
