// ABOUTME: Wire-facing notification payloads built from domain events
// ABOUTME: One compact body shape per event kind, JSON-tagged for the transport

package notify

import (
	"time"

	"github.com/2389/parley-gateway/internal/chat"
)

// Notification is the payload pushed to a client session. Seq is the
// per-conversation ordering token; clients apply the highest Seq they have
// seen per conversation and drop anything older.
type Notification struct {
	EventID        string    `json:"event_id"`
	Kind           chat.Kind `json:"kind"`
	ConversationID string    `json:"conversation_id"`
	Seq            uint64    `json:"seq"`
	Timestamp      time.Time `json:"timestamp"`
	Body           any       `json:"body"`
}

// RoomCreatedBody announces a new conversation.
type RoomCreatedBody struct {
	VisitorID   string      `json:"visitor_id"`
	Status      chat.Status `json:"status"`
	LastMessage string      `json:"last_message,omitempty"`
}

// StatusUpdatedBody announces a status transition.
type StatusUpdatedBody struct {
	Old chat.Status `json:"old"`
	New chat.Status `json:"new"`
}

// PresenceBody announces a seen or unseen flip for one participant.
type PresenceBody struct {
	ParticipantID string    `json:"participant_id"`
	At            time.Time `json:"at"`
}

// UnassignedBody announces a participant removal.
type UnassignedBody struct {
	ParticipantID string    `json:"participant_id"`
	Role          chat.Role `json:"role"`
}

// notificationFor maps a domain event to its wire notification.
func notificationFor(event chat.Event) Notification {
	n := Notification{
		EventID:        event.ID,
		Kind:           event.Kind,
		ConversationID: event.ConversationID,
		Seq:            event.Seq,
		Timestamp:      event.Timestamp,
	}

	switch p := event.Payload.(type) {
	case chat.RoomCreated:
		body := RoomCreatedBody{
			VisitorID: p.Conversation.VisitorID,
			Status:    p.Conversation.Status,
		}
		if p.Conversation.LastMessage != nil {
			body.LastMessage = p.Conversation.LastMessage.Text
		}
		n.Body = body
	case chat.StatusUpdated:
		n.Body = StatusUpdatedBody{Old: p.Old, New: p.New}
	case chat.ParticipantSeenAt:
		n.Body = PresenceBody{ParticipantID: p.ParticipantID, At: p.At}
	case chat.ParticipantUnseenAt:
		n.Body = PresenceBody{ParticipantID: p.ParticipantID, At: p.At}
	case chat.ParticipantUnassigned:
		n.Body = UnassignedBody{ParticipantID: p.Participant.ID, Role: p.Participant.Role}
	}

	return n
}
