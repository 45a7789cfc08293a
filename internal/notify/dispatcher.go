// ABOUTME: Turns domain events into pushes to every live session of the target users
// ABOUTME: Offline targets are skipped; push failures are logged, never retried

package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/parley-gateway/internal/bus"
	"github.com/2389/parley-gateway/internal/chat"
	"github.com/2389/parley-gateway/internal/dedupe"
	"github.com/2389/parley-gateway/internal/session"
)

const (
	// dedupeTTL is how long a delivered event id is remembered. Redeliveries
	// inside this window are dropped; anything older has long since rendered.
	dedupeTTL     = 5 * time.Minute
	dedupeMaxSize = 8192
)

// Pusher delivers one notification to one live session. The dispatcher does
// not know the wire format behind it.
type Pusher interface {
	Push(ctx context.Context, handle *session.Handle, n Notification) error
}

// Sessions is the registry surface the dispatcher reads.
type Sessions interface {
	SessionsFor(userID string) []*session.Handle
}

// ConversationLoader resolves a conversation snapshot for events whose
// payload does not carry one.
type ConversationLoader interface {
	Load(ctx context.Context, conversationID string) (*chat.Conversation, error)
}

// Dispatcher subscribes to all domain event kinds, computes the target users
// for each event, and pushes a notification to each of their live sessions.
// Session pushes run in the background; the publishing command never waits
// on socket writes.
type Dispatcher struct {
	sessions Sessions
	pusher   Pusher
	loader   ConversationLoader
	seen     *dedupe.Cache
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Pass nil logger for default.
func NewDispatcher(sessions Sessions, pusher Pusher, loader ConversationLoader, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sessions: sessions,
		pusher:   pusher,
		loader:   loader,
		seen:     dedupe.New(dedupeTTL, dedupeMaxSize),
		logger:   logger.With("component", "notify"),
	}
}

// Register subscribes the dispatcher to every event kind on the bus.
func (d *Dispatcher) Register(b *bus.Bus) {
	b.SubscribeAll("notify", d.HandleEvent)
}

// Close waits for in-flight pushes and releases the dedupe cache.
func (d *Dispatcher) Close() {
	d.wg.Wait()
	d.seen.Close()
}

// HandleEvent is the bus subscriber. It resolves target sessions
// synchronously and schedules the socket writes in the background.
func (d *Dispatcher) HandleEvent(ctx context.Context, event chat.Event) error {
	if d.seen.Seen(event.ID) {
		d.logger.Debug("duplicate event dropped", "event_id", event.ID, "kind", event.Kind)
		return nil
	}

	targets, err := d.targetsFor(ctx, event)
	if err != nil {
		// Local recovery only: the command that produced the event has
		// already committed.
		d.logger.Error("resolving notification targets",
			"event_id", event.ID,
			"kind", event.Kind,
			"conversation_id", event.ConversationID,
			"error", err,
		)
		return nil
	}

	n := notificationFor(event)
	var handles []*session.Handle
	for _, userID := range targets {
		hs := d.sessions.SessionsFor(userID)
		if len(hs) == 0 {
			d.logger.Debug("target offline, skipping",
				"user_id", userID,
				"event_id", event.ID,
			)
			continue
		}
		handles = append(handles, hs...)
	}
	if len(handles) == 0 {
		return nil
	}

	d.wg.Add(1)
	go d.push(context.WithoutCancel(ctx), handles, n)
	return nil
}

// push writes the notification to each handle. A failed write to one session
// never stops the rest; the connection may simply have closed.
func (d *Dispatcher) push(ctx context.Context, handles []*session.Handle, n Notification) {
	defer d.wg.Done()

	for _, h := range handles {
		if err := d.pusher.Push(ctx, h, n); err != nil {
			d.logger.Warn("push failed",
				"handle_id", h.ID,
				"user_id", h.UserID,
				"event_id", n.EventID,
				"kind", n.Kind,
				"error", err,
			)
		}
	}
}

// targetsFor computes the user ids an event concerns. Returned ids may
// repeat sessions across users but each user appears once.
func (d *Dispatcher) targetsFor(ctx context.Context, event chat.Event) ([]string, error) {
	switch p := event.Payload.(type) {
	case chat.RoomCreated:
		// The assigned agent(s) get told a new chat started.
		var targets []string
		for _, part := range p.Conversation.Participants {
			if part.Role == chat.RoleAgent {
				targets = append(targets, part.ID)
			}
		}
		return targets, nil

	case chat.StatusUpdated:
		conv, err := d.loader.Load(ctx, event.ConversationID)
		if err != nil {
			return nil, err
		}
		targets := make([]string, 0, len(conv.Participants))
		for _, part := range conv.Participants {
			targets = append(targets, part.ID)
		}
		return targets, nil

	case chat.ParticipantSeenAt:
		return d.otherParticipants(ctx, event.ConversationID, p.ParticipantID)

	case chat.ParticipantUnseenAt:
		return d.otherParticipants(ctx, event.ConversationID, p.ParticipantID)

	case chat.ParticipantUnassigned:
		targets := []string{p.Participant.ID}
		if owner, ok := p.Conversation.Owner(); ok && owner.ID != p.Participant.ID {
			targets = append(targets, owner.ID)
		}
		return targets, nil
	}

	d.logger.Warn("event kind without targeting rule", "kind", event.Kind)
	return nil, nil
}

// otherParticipants returns every participant of the conversation except the
// one whose presence changed.
func (d *Dispatcher) otherParticipants(ctx context.Context, conversationID, exceptID string) ([]string, error) {
	conv, err := d.loader.Load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	var targets []string
	for _, part := range conv.Participants {
		if part.ID != exceptID {
			targets = append(targets, part.ID)
		}
	}
	return targets, nil
}
