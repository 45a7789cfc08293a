// ABOUTME: Explicit registration table from command/query kind to handler
// ABOUTME: The transport submits decoded intents here; no reflection wiring

package chat

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Mux errors
var (
	ErrUnknownCommand = errors.New("unknown command kind")
	ErrUnknownQuery   = errors.New("unknown query kind")
)

// CommandKind identifies a command variant.
type CommandKind string

const (
	CmdStartConversation   CommandKind = "start_conversation"
	CmdMarkSeen            CommandKind = "mark_seen"
	CmdMarkUnseen          CommandKind = "mark_unseen"
	CmdUpdateStatus        CommandKind = "update_status"
	CmdUnassignParticipant CommandKind = "unassign_participant"
)

// QueryKind identifies a query variant.
type QueryKind string

const (
	QryConversationByParticipant  QueryKind = "conversation_by_participant"
	QryConversationsByParticipant QueryKind = "conversations_by_participant"
	QryUserBySessionHandle        QueryKind = "user_by_session_handle"
)

// Command is a state-changing intent.
type Command interface {
	CommandKind() CommandKind
}

// Query is a read-only intent.
type Query interface {
	QueryKind() QueryKind
}

// StartConversation opens a conversation for a visitor. ConversationID is
// optional; one is generated when empty, and a supplied id must not already
// be in use.
type StartConversation struct {
	ConversationID string `json:"conversation_id,omitempty"`
	VisitorID      string `json:"visitor_id"`
	AgentID        string `json:"agent_id,omitempty"`
	FirstMessage   string `json:"first_message,omitempty"`
}

func (StartConversation) CommandKind() CommandKind { return CmdStartConversation }

// MarkSeen flips a participant's presence to seen as of At.
type MarkSeen struct {
	ConversationID string    `json:"conversation_id"`
	ParticipantID  string    `json:"participant_id"`
	At             time.Time `json:"at"`
}

func (MarkSeen) CommandKind() CommandKind { return CmdMarkSeen }

// MarkUnseen flips a participant's presence to unseen as of At.
type MarkUnseen struct {
	ConversationID string    `json:"conversation_id"`
	ParticipantID  string    `json:"participant_id"`
	At             time.Time `json:"at"`
}

func (MarkUnseen) CommandKind() CommandKind { return CmdMarkUnseen }

// UpdateStatus transitions a conversation's status.
type UpdateStatus struct {
	ConversationID string `json:"conversation_id"`
	Status         Status `json:"status"`
}

func (UpdateStatus) CommandKind() CommandKind { return CmdUpdateStatus }

// UnassignParticipant removes a participant from a conversation.
type UnassignParticipant struct {
	ConversationID string `json:"conversation_id"`
	ParticipantID  string `json:"participant_id"`
}

func (UnassignParticipant) CommandKind() CommandKind { return CmdUnassignParticipant }

// FindOneConversationByParticipant asks for the most recently active
// conversation of a participant.
type FindOneConversationByParticipant struct {
	ParticipantID string `json:"participant_id"`
}

func (FindOneConversationByParticipant) QueryKind() QueryKind {
	return QryConversationByParticipant
}

// FindConversationsByParticipant asks for all conversations of a participant,
// most recently active first.
type FindConversationsByParticipant struct {
	ParticipantID string `json:"participant_id"`
}

func (FindConversationsByParticipant) QueryKind() QueryKind {
	return QryConversationsByParticipant
}

// FindUserBySessionHandle asks which user owns a session handle.
type FindUserBySessionHandle struct {
	HandleID string `json:"handle_id"`
}

func (FindUserBySessionHandle) QueryKind() QueryKind { return QryUserBySessionHandle }

type commandHandler func(ctx context.Context, cmd Command) (any, error)

type queryHandler func(ctx context.Context, qry Query) (any, error)

// Mux is the command/query intake. The handler table is built once at
// startup and is read-only afterwards, so Submit needs no locking.
type Mux struct {
	commands map[CommandKind]commandHandler
	queries  map[QueryKind]queryHandler
}

// NewMux builds the registration table over the given service and queries.
func NewMux(svc *Service, qry *Queries) *Mux {
	m := &Mux{
		commands: make(map[CommandKind]commandHandler),
		queries:  make(map[QueryKind]queryHandler),
	}

	m.commands[CmdStartConversation] = func(ctx context.Context, cmd Command) (any, error) {
		return svc.StartConversation(ctx, cmd.(StartConversation))
	}
	m.commands[CmdMarkSeen] = func(ctx context.Context, cmd Command) (any, error) {
		return nil, svc.MarkSeen(ctx, cmd.(MarkSeen))
	}
	m.commands[CmdMarkUnseen] = func(ctx context.Context, cmd Command) (any, error) {
		return nil, svc.MarkUnseen(ctx, cmd.(MarkUnseen))
	}
	m.commands[CmdUpdateStatus] = func(ctx context.Context, cmd Command) (any, error) {
		return nil, svc.UpdateStatus(ctx, cmd.(UpdateStatus))
	}
	m.commands[CmdUnassignParticipant] = func(ctx context.Context, cmd Command) (any, error) {
		return nil, svc.UnassignParticipant(ctx, cmd.(UnassignParticipant))
	}

	m.queries[QryConversationByParticipant] = func(ctx context.Context, q Query) (any, error) {
		return qry.FindOneConversationByParticipant(ctx, q.(FindOneConversationByParticipant).ParticipantID)
	}
	m.queries[QryConversationsByParticipant] = func(ctx context.Context, q Query) (any, error) {
		return qry.FindConversationsByParticipant(ctx, q.(FindConversationsByParticipant).ParticipantID)
	}
	m.queries[QryUserBySessionHandle] = func(ctx context.Context, q Query) (any, error) {
		return qry.FindUserBySessionHandle(ctx, q.(FindUserBySessionHandle).HandleID)
	}

	return m
}

// Submit executes a command, returning its result (if any) or the typed
// validation error.
func (m *Mux) Submit(ctx context.Context, cmd Command) (any, error) {
	h, ok := m.commands[cmd.CommandKind()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.CommandKind())
	}
	return h(ctx, cmd)
}

// SubmitQuery executes a query, returning the result or ErrNotFound.
func (m *Mux) SubmitQuery(ctx context.Context, qry Query) (any, error) {
	h, ok := m.queries[qry.QueryKind()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQuery, qry.QueryKind())
	}
	return h(ctx, qry)
}
