// ABOUTME: Conversation aggregate with participant roster, status machine, and per-pair presence
// ABOUTME: All mutations validate first and return the domain event they produced

package chat

import (
	"errors"
	"time"
)

// Mutation errors
var (
	// ErrStaleWrite means a presence timestamp was not strictly greater than
	// the pair's current maximum. The write has been superseded.
	ErrStaleWrite = errors.New("stale presence write")

	// ErrInvalidTransition means the requested status change is not in the
	// allowed transition set (or is a same-status no-op).
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotAParticipant means the target user is not attached to the conversation.
	ErrNotAParticipant = errors.New("not a participant")

	// ErrNotFound is returned when a conversation or query target does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists means a conversation with the requested id already
	// exists. Closed conversations are terminal; starting over requires a new id.
	ErrAlreadyExists = errors.New("conversation already exists")
)

// Status enumerates conversation lifecycle states.
type Status string

const (
	StatusOpen    Status = "open"
	StatusPending Status = "pending"
	StatusClosed  Status = "closed"
)

// allowedTransitions is the closed set of legal status changes.
// Closed is terminal; reopening requires a new conversation.
var allowedTransitions = map[Status][]Status{
	StatusOpen:    {StatusPending, StatusClosed},
	StatusPending: {StatusOpen, StatusClosed},
}

// Role describes how a participant is attached to a conversation.
type Role string

const (
	RoleVisitor Role = "visitor"
	RoleAgent   Role = "agent"
)

// Participant is a user attached to a conversation.
type Participant struct {
	ID       string
	Role     Role
	JoinedAt time.Time
}

// LastMessage is the summary of the most recent message in a conversation.
type LastMessage struct {
	Text string
	At   time.Time
}

// Presence holds the seen/unseen timestamps for one (conversation, participant)
// pair. At most one of the two is the current state: the most recent wins.
// Pairs are created on the first presence write and never deleted.
type Presence struct {
	LastSeenAt   *time.Time
	LastUnseenAt *time.Time
}

// Seen reports whether the pair is currently in the seen state, and as of when.
// A pair with no writes yet reports unseen with a zero time.
func (p *Presence) Seen() (bool, time.Time) {
	switch {
	case p.LastSeenAt == nil && p.LastUnseenAt == nil:
		return false, time.Time{}
	case p.LastSeenAt == nil:
		return false, *p.LastUnseenAt
	case p.LastUnseenAt == nil:
		return true, *p.LastSeenAt
	case p.LastSeenAt.After(*p.LastUnseenAt):
		return true, *p.LastSeenAt
	default:
		return false, *p.LastUnseenAt
	}
}

// max returns the latest timestamp recorded for the pair.
func (p *Presence) max() time.Time {
	_, at := p.Seen()
	return at
}

// Conversation is the aggregate root for one chat thread between a visitor
// and one or more agents. Mutated only through its methods; concurrent
// mutators on the same conversation must be serialized by the caller.
type Conversation struct {
	ID           string
	Status       Status
	VisitorID    string
	Participants []Participant
	LastMessage  *LastMessage
	Presence     map[string]*Presence // participant id -> presence pair
	Seq          uint64               // per-aggregate event ordering token
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// New creates an open conversation for a visitor with the given participants
// and returns it together with its RoomCreated event.
func New(id, visitorID string, participants []Participant, now time.Time) (*Conversation, Event) {
	c := &Conversation{
		ID:           id,
		Status:       StatusOpen,
		VisitorID:    visitorID,
		Participants: participants,
		Presence:     make(map[string]*Presence),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return c, c.newEvent(KindRoomCreated, now, RoomCreated{Conversation: c.Snapshot()})
}

// Participant returns the attached participant with the given id.
func (c *Conversation) Participant(id string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

// Owner returns the conversation owner: the earliest-joined agent participant.
func (c *Conversation) Owner() (Participant, bool) {
	var owner Participant
	found := false
	for _, p := range c.Participants {
		if p.Role != RoleAgent {
			continue
		}
		if !found || p.JoinedAt.Before(owner.JoinedAt) {
			owner = p
			found = true
		}
	}
	return owner, found
}

// PresenceFor returns the presence pair for a participant, creating it on
// first access.
func (c *Conversation) PresenceFor(participantID string) *Presence {
	if c.Presence == nil {
		c.Presence = make(map[string]*Presence)
	}
	p, ok := c.Presence[participantID]
	if !ok {
		p = &Presence{}
		c.Presence[participantID] = p
	}
	return p
}

// LastActivityAt is the conversation's most-recent-activity timestamp, used
// for ordering query results. The last message wins over metadata updates.
func (c *Conversation) LastActivityAt() time.Time {
	if c.LastMessage != nil && c.LastMessage.At.After(c.UpdatedAt) {
		return c.LastMessage.At
	}
	return c.UpdatedAt
}

// MarkSeen records that the participant has seen the conversation as of at.
// Fails with ErrStaleWrite unless at is strictly greater than the pair's
// current maximum timestamp.
func (c *Conversation) MarkSeen(participantID string, at time.Time) (Event, error) {
	pr := c.PresenceFor(participantID)
	if !at.After(pr.max()) {
		return Event{}, ErrStaleWrite
	}
	t := at
	pr.LastSeenAt = &t
	c.UpdatedAt = at
	return c.newEvent(KindParticipantSeenAt, at, ParticipantSeenAt{
		ParticipantID: participantID,
		At:            at,
	}), nil
}

// MarkUnseen records new unseen activity for the participant as of at.
// Same staleness rule as MarkSeen.
func (c *Conversation) MarkUnseen(participantID string, at time.Time) (Event, error) {
	pr := c.PresenceFor(participantID)
	if !at.After(pr.max()) {
		return Event{}, ErrStaleWrite
	}
	t := at
	pr.LastUnseenAt = &t
	c.UpdatedAt = at
	return c.newEvent(KindParticipantUnseenAt, at, ParticipantUnseenAt{
		ParticipantID: participantID,
		At:            at,
	}), nil
}

// UpdateStatus transitions the conversation to newStatus. Same-status writes
// and transitions outside the allowed set fail with ErrInvalidTransition.
func (c *Conversation) UpdateStatus(newStatus Status, now time.Time) (Event, error) {
	if newStatus == c.Status {
		return Event{}, ErrInvalidTransition
	}
	allowed := false
	for _, s := range allowedTransitions[c.Status] {
		if s == newStatus {
			allowed = true
			break
		}
	}
	if !allowed {
		return Event{}, ErrInvalidTransition
	}

	old := c.Status
	c.Status = newStatus
	c.UpdatedAt = now
	return c.newEvent(KindStatusUpdated, now, StatusUpdated{
		Old: old,
		New: newStatus,
	}), nil
}

// Unassign detaches the participant from the conversation. Fails with
// ErrNotAParticipant if they are not attached. The participant's presence
// pair is kept; only the roster entry is removed.
func (c *Conversation) Unassign(participantID string, now time.Time) (Event, error) {
	idx := -1
	for i, p := range c.Participants {
		if p.ID == participantID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Event{}, ErrNotAParticipant
	}

	removed := c.Participants[idx]
	c.Participants = append(c.Participants[:idx], c.Participants[idx+1:]...)
	c.UpdatedAt = now
	return c.newEvent(KindParticipantUnassigned, now, ParticipantUnassigned{
		Conversation: c.Snapshot(),
		Participant:  removed,
	}), nil
}

// RecordMessage updates the last-message summary. It does not emit an event;
// message fan-out is the messaging layer's concern, not presence.
func (c *Conversation) RecordMessage(text string, at time.Time) {
	c.LastMessage = &LastMessage{Text: text, At: at}
	if at.After(c.UpdatedAt) {
		c.UpdatedAt = at
	}
}

// Snapshot returns a deep copy of the conversation. Event payloads and store
// reads hand out snapshots so no caller can mutate the aggregate aliasing it.
func (c *Conversation) Snapshot() Conversation {
	cp := *c
	cp.Participants = make([]Participant, len(c.Participants))
	copy(cp.Participants, c.Participants)
	cp.Presence = make(map[string]*Presence, len(c.Presence))
	for id, p := range c.Presence {
		pc := &Presence{}
		if p.LastSeenAt != nil {
			t := *p.LastSeenAt
			pc.LastSeenAt = &t
		}
		if p.LastUnseenAt != nil {
			t := *p.LastUnseenAt
			pc.LastUnseenAt = &t
		}
		cp.Presence[id] = pc
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		cp.LastMessage = &lm
	}
	return cp
}
