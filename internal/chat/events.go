// ABOUTME: Domain events emitted by conversation mutations
// ABOUTME: A closed set of kinds, each with its own payload struct

package chat

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies a domain event variant.
type Kind string

const (
	KindRoomCreated           Kind = "room_created"
	KindStatusUpdated         Kind = "status_updated"
	KindParticipantSeenAt     Kind = "participant_seen_at"
	KindParticipantUnseenAt   Kind = "participant_unseen_at"
	KindParticipantUnassigned Kind = "participant_unassigned"
)

// Kinds lists every event kind, in a fixed order, for subscribers that want
// all of them.
func Kinds() []Kind {
	return []Kind{
		KindRoomCreated,
		KindStatusUpdated,
		KindParticipantSeenAt,
		KindParticipantUnseenAt,
		KindParticipantUnassigned,
	}
}

// Event is an immutable record of one conversation state change. Seq is the
// per-conversation ordering token: it increases by one per emitted event and
// lets at-least-once consumers discard stale or duplicate deliveries.
type Event struct {
	ID             string
	Kind           Kind
	ConversationID string
	Seq            uint64
	Timestamp      time.Time
	Payload        any
}

// RoomCreated is emitted once when a conversation starts.
type RoomCreated struct {
	Conversation Conversation
}

// StatusUpdated carries both sides of a status transition so the event is
// self-describing without a read of current aggregate state.
type StatusUpdated struct {
	Old Status
	New Status
}

// ParticipantSeenAt is emitted when a participant's presence flips to seen.
type ParticipantSeenAt struct {
	ParticipantID string
	At            time.Time
}

// ParticipantUnseenAt is emitted when new activity makes a participant's
// presence flip to unseen.
type ParticipantUnseenAt struct {
	ParticipantID string
	At            time.Time
}

// ParticipantUnassigned carries a snapshot of the conversation after removal
// together with the removed participant.
type ParticipantUnassigned struct {
	Conversation Conversation
	Participant  Participant
}

// newEvent stamps a fresh event for this aggregate, advancing its sequence.
func (c *Conversation) newEvent(kind Kind, ts time.Time, payload any) Event {
	c.Seq++
	return Event{
		ID:             uuid.New().String(),
		Kind:           kind,
		ConversationID: c.ID,
		Seq:            c.Seq,
		Timestamp:      ts,
		Payload:        payload,
	}
}
