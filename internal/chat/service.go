// ABOUTME: Command handlers for conversation mutations
// ABOUTME: Serializes writers per conversation, persists, then publishes events

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the load/save contract the core delegates persistence to,
// keyed by conversation id. Implementations must return ErrNotFound for
// missing conversations and must hand out copies the caller may mutate.
type Store interface {
	Load(ctx context.Context, conversationID string) (*Conversation, error)
	Save(ctx context.Context, conv *Conversation) error
	FindByParticipant(ctx context.Context, participantID string) ([]*Conversation, error)
}

// Publisher is the event bus surface the command side needs.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Service executes state-changing commands against conversation aggregates.
// Mutations on one conversation are mutually exclusive; different
// conversations proceed independently.
type Service struct {
	store  Store
	bus    Publisher
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates the command service. Pass nil logger for default.
func NewService(store Store, bus Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		bus:    bus,
		logger: logger.With("component", "chat"),
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// lock acquires the mutex for one conversation id, creating it on first use.
// Lock entries are never removed; the set of live conversations is small
// relative to traffic and a stable mutex identity keeps this simple.
func (s *Service) lock(conversationID string) *sync.Mutex {
	s.mu.Lock()
	m, ok := s.locks[conversationID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[conversationID] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m
}

// StartConversation opens a new conversation for a visitor. The visitor and
// the assigned agent are attached as participants and a RoomCreated event is
// published. Returns the new conversation id. Fails with ErrAlreadyExists
// when a conversation with the requested id is already stored.
func (s *Service) StartConversation(ctx context.Context, cmd StartConversation) (string, error) {
	id := cmd.ConversationID
	if id == "" {
		id = uuid.New().String()
	}

	now := s.now()
	participants := []Participant{
		{ID: cmd.VisitorID, Role: RoleVisitor, JoinedAt: now},
	}
	if cmd.AgentID != "" {
		participants = append(participants, Participant{ID: cmd.AgentID, Role: RoleAgent, JoinedAt: now})
	}

	m := s.lock(id)
	defer m.Unlock()

	// A replayed start must not resurrect an existing aggregate: overwriting
	// would reopen a closed conversation and reset its sequence.
	if _, err := s.store.Load(ctx, id); err == nil {
		return "", fmt.Errorf("conversation %s: %w", id, ErrAlreadyExists)
	} else if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("checking conversation %s: %w", id, err)
	}

	conv, event := New(id, cmd.VisitorID, participants, now)
	if cmd.FirstMessage != "" {
		conv.RecordMessage(cmd.FirstMessage, now)
	}
	if err := s.store.Save(ctx, conv); err != nil {
		return "", fmt.Errorf("saving conversation: %w", err)
	}

	s.bus.Publish(ctx, event)
	s.logger.Info("conversation started",
		"conversation_id", id,
		"visitor_id", cmd.VisitorID,
		"agent_id", cmd.AgentID,
	)
	return id, nil
}

// MarkSeen executes a MarkSeen command. Returns ErrStaleWrite when the
// timestamp has been superseded; no event is published on failure.
func (s *Service) MarkSeen(ctx context.Context, cmd MarkSeen) error {
	return s.mutate(ctx, cmd.ConversationID, func(conv *Conversation) (Event, error) {
		return conv.MarkSeen(cmd.ParticipantID, cmd.At)
	})
}

// MarkUnseen executes a MarkUnseen command, symmetric to MarkSeen.
func (s *Service) MarkUnseen(ctx context.Context, cmd MarkUnseen) error {
	return s.mutate(ctx, cmd.ConversationID, func(conv *Conversation) (Event, error) {
		return conv.MarkUnseen(cmd.ParticipantID, cmd.At)
	})
}

// UpdateStatus executes an UpdateStatus command. Illegal transitions fail
// with ErrInvalidTransition and publish nothing.
func (s *Service) UpdateStatus(ctx context.Context, cmd UpdateStatus) error {
	return s.mutate(ctx, cmd.ConversationID, func(conv *Conversation) (Event, error) {
		return conv.UpdateStatus(cmd.Status, s.now())
	})
}

// UnassignParticipant executes an UnassignParticipant command. Fails with
// ErrNotAParticipant if the target is not attached.
func (s *Service) UnassignParticipant(ctx context.Context, cmd UnassignParticipant) error {
	return s.mutate(ctx, cmd.ConversationID, func(conv *Conversation) (Event, error) {
		return conv.Unassign(cmd.ParticipantID, s.now())
	})
}

// mutate runs one aggregate mutation under the conversation's lock:
// load, apply, save, publish. Validation happens inside apply, before any
// state is written, so a failed command leaves nothing behind.
func (s *Service) mutate(ctx context.Context, conversationID string, apply func(*Conversation) (Event, error)) error {
	m := s.lock(conversationID)
	defer m.Unlock()

	conv, err := s.store.Load(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("loading conversation %s: %w", conversationID, err)
	}

	event, err := apply(conv)
	if err != nil {
		return err
	}

	if err := s.store.Save(ctx, conv); err != nil {
		return fmt.Errorf("saving conversation %s: %w", conversationID, err)
	}

	// Published inside the lock so per-conversation event order matches
	// mutation order. Bus fan-out is synchronous; socket delivery is not.
	s.bus.Publish(ctx, event)
	return nil
}
