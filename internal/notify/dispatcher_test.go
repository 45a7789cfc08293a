// ABOUTME: Tests for the notification dispatcher
// ABOUTME: Target computation per kind, offline skips, push failure isolation, dedupe

package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley-gateway/internal/chat"
	"github.com/2389/parley-gateway/internal/session"
)

type fakeSessions map[string][]*session.Handle

func (f fakeSessions) SessionsFor(userID string) []*session.Handle {
	return f[userID]
}

type pushRecord struct {
	HandleID string
	UserID   string
	N        Notification
}

type fakePusher struct {
	mu      sync.Mutex
	pushes  []pushRecord
	failFor map[string]bool // handle ids whose pushes fail
}

func (f *fakePusher) Push(_ context.Context, h *session.Handle, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[h.ID] {
		return errors.New("connection closed")
	}
	f.pushes = append(f.pushes, pushRecord{HandleID: h.ID, UserID: h.UserID, N: n})
	return nil
}

func (f *fakePusher) all() []pushRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pushRecord(nil), f.pushes...)
}

type fakeLoader map[string]*chat.Conversation

func (f fakeLoader) Load(_ context.Context, id string) (*chat.Conversation, error) {
	conv, ok := f[id]
	if !ok {
		return nil, chat.ErrNotFound
	}
	return conv, nil
}

func testConversation() *chat.Conversation {
	now := time.Unix(1000, 0).UTC()
	conv, _ := chat.New("c1", "visitor-1", []chat.Participant{
		{ID: "visitor-1", Role: chat.RoleVisitor, JoinedAt: now},
		{ID: "agent-1", Role: chat.RoleAgent, JoinedAt: now},
		{ID: "agent-2", Role: chat.RoleAgent, JoinedAt: now.Add(time.Minute)},
	}, now)
	return conv
}

func makeEvent(kind chat.Kind, payload any) chat.Event {
	return chat.Event{
		ID:             uuid.New().String(),
		Kind:           kind,
		ConversationID: "c1",
		Seq:            2,
		Timestamp:      time.Unix(2000, 0),
		Payload:        payload,
	}
}

// dispatch runs one event through a fresh dispatcher and waits for all
// background pushes to finish.
func dispatch(t *testing.T, sessions fakeSessions, pusher *fakePusher, loader fakeLoader, events ...chat.Event) {
	t.Helper()
	d := NewDispatcher(sessions, pusher, loader, nil)
	for _, e := range events {
		require.NoError(t, d.HandleEvent(context.Background(), e))
	}
	d.Close()
}

func TestDispatcher_RoomCreatedTargetsAgents(t *testing.T) {
	conv := testConversation()
	sessions := fakeSessions{
		"agent-1":   {{ID: "a1-tab", UserID: "agent-1"}},
		"agent-2":   {{ID: "a2-tab", UserID: "agent-2"}},
		"visitor-1": {{ID: "v-tab", UserID: "visitor-1"}},
	}
	pusher := &fakePusher{}

	dispatch(t, sessions, pusher, fakeLoader{}, makeEvent(chat.KindRoomCreated, chat.RoomCreated{Conversation: conv.Snapshot()}))

	users := map[string]bool{}
	for _, p := range pusher.all() {
		users[p.UserID] = true
	}
	assert.True(t, users["agent-1"])
	assert.True(t, users["agent-2"])
	assert.False(t, users["visitor-1"], "the visitor already knows their own chat started")
}

func TestDispatcher_StatusUpdatedTargetsAllParticipants(t *testing.T) {
	conv := testConversation()
	sessions := fakeSessions{
		"visitor-1": {{ID: "v-tab", UserID: "visitor-1"}},
		"agent-1":   {{ID: "a-tab", UserID: "agent-1"}},
	}
	pusher := &fakePusher{}

	dispatch(t, sessions, pusher, fakeLoader{"c1": conv},
		makeEvent(chat.KindStatusUpdated, chat.StatusUpdated{Old: chat.StatusOpen, New: chat.StatusClosed}))

	users := map[string]bool{}
	for _, p := range pusher.all() {
		users[p.UserID] = true
		body, ok := p.N.Body.(StatusUpdatedBody)
		require.True(t, ok)
		assert.Equal(t, chat.StatusOpen, body.Old)
		assert.Equal(t, chat.StatusClosed, body.New)
	}
	assert.True(t, users["visitor-1"])
	assert.True(t, users["agent-1"])
}

func TestDispatcher_PresenceTargetsOtherParticipants(t *testing.T) {
	conv := testConversation()
	sessions := fakeSessions{
		"visitor-1": {{ID: "v-tab", UserID: "visitor-1"}},
		"agent-1":   {{ID: "a1-tab", UserID: "agent-1"}},
		"agent-2":   {{ID: "a2-tab", UserID: "agent-2"}},
	}
	pusher := &fakePusher{}

	dispatch(t, sessions, pusher, fakeLoader{"c1": conv},
		makeEvent(chat.KindParticipantUnseenAt, chat.ParticipantUnseenAt{ParticipantID: "visitor-1", At: time.Unix(2000, 0)}))

	users := map[string]bool{}
	for _, p := range pusher.all() {
		users[p.UserID] = true
	}
	assert.False(t, users["visitor-1"], "the participant whose presence changed is not notified")
	assert.True(t, users["agent-1"])
	assert.True(t, users["agent-2"])
}

func TestDispatcher_UnassignedTargetsRemovedAndOwner(t *testing.T) {
	conv := testConversation()
	removed, ok := conv.Participant("agent-2")
	require.True(t, ok)
	_, err := conv.Unassign("agent-2", time.Unix(2000, 0))
	require.NoError(t, err)

	sessions := fakeSessions{
		"agent-1": {{ID: "a1-tab", UserID: "agent-1"}},
		"agent-2": {{ID: "a2-tab", UserID: "agent-2"}},
	}
	pusher := &fakePusher{}

	dispatch(t, sessions, pusher, fakeLoader{},
		makeEvent(chat.KindParticipantUnassigned, chat.ParticipantUnassigned{
			Conversation: conv.Snapshot(),
			Participant:  removed,
		}))

	users := map[string]bool{}
	for _, p := range pusher.all() {
		users[p.UserID] = true
	}
	assert.True(t, users["agent-2"], "the removed participant is told")
	assert.True(t, users["agent-1"], "the conversation owner is told")
}

func TestDispatcher_ZeroSessionsZeroPushes(t *testing.T) {
	conv := testConversation()
	pusher := &fakePusher{}

	dispatch(t, fakeSessions{}, pusher, fakeLoader{},
		makeEvent(chat.KindRoomCreated, chat.RoomCreated{Conversation: conv.Snapshot()}))

	assert.Empty(t, pusher.all())
}

func TestDispatcher_MultiTabFanOut(t *testing.T) {
	conv := testConversation()
	sessions := fakeSessions{
		"agent-1": {
			{ID: "a1-tab1", UserID: "agent-1"},
			{ID: "a1-tab2", UserID: "agent-1"},
			{ID: "a1-phone", UserID: "agent-1"},
		},
	}
	pusher := &fakePusher{}

	dispatch(t, sessions, pusher, fakeLoader{},
		makeEvent(chat.KindRoomCreated, chat.RoomCreated{Conversation: conv.Snapshot()}))

	handles := map[string]bool{}
	for _, p := range pusher.all() {
		handles[p.HandleID] = true
	}
	assert.Len(t, handles, 3, "every live session of the user gets a push")
}

func TestDispatcher_PushFailureDoesNotStopOthers(t *testing.T) {
	conv := testConversation()
	sessions := fakeSessions{
		"agent-1": {
			{ID: "dead-tab", UserID: "agent-1"},
			{ID: "live-tab", UserID: "agent-1"},
		},
		"agent-2": {{ID: "a2-tab", UserID: "agent-2"}},
	}
	pusher := &fakePusher{failFor: map[string]bool{"dead-tab": true}}

	dispatch(t, sessions, pusher, fakeLoader{},
		makeEvent(chat.KindRoomCreated, chat.RoomCreated{Conversation: conv.Snapshot()}))

	handles := map[string]bool{}
	for _, p := range pusher.all() {
		handles[p.HandleID] = true
	}
	assert.True(t, handles["live-tab"])
	assert.True(t, handles["a2-tab"])
	assert.False(t, handles["dead-tab"])
}

func TestDispatcher_DuplicateEventDropped(t *testing.T) {
	conv := testConversation()
	sessions := fakeSessions{
		"agent-1": {{ID: "a1-tab", UserID: "agent-1"}},
	}
	pusher := &fakePusher{}

	event := makeEvent(chat.KindRoomCreated, chat.RoomCreated{Conversation: conv.Snapshot()})
	dispatch(t, sessions, pusher, fakeLoader{}, event, event)

	var count int
	for _, p := range pusher.all() {
		if p.HandleID == "a1-tab" {
			count++
		}
	}
	assert.Equal(t, 1, count, "redelivered event id is discarded")
}

func TestDispatcher_LoaderFailureIsLocal(t *testing.T) {
	pusher := &fakePusher{}
	d := NewDispatcher(fakeSessions{}, pusher, fakeLoader{}, nil)
	defer d.Close()

	// The conversation is gone by dispatch time; the handler still returns nil
	err := d.HandleEvent(context.Background(),
		makeEvent(chat.KindStatusUpdated, chat.StatusUpdated{Old: chat.StatusOpen, New: chat.StatusClosed}))
	assert.NoError(t, err)
	assert.Empty(t, pusher.all())
}

func TestDispatcher_NotificationCarriesOrderingToken(t *testing.T) {
	conv := testConversation()
	sessions := fakeSessions{
		"agent-1": {{ID: "a1-tab", UserID: "agent-1"}},
	}
	pusher := &fakePusher{}

	event := makeEvent(chat.KindRoomCreated, chat.RoomCreated{Conversation: conv.Snapshot()})
	dispatch(t, sessions, pusher, fakeLoader{}, event)

	pushes := pusher.all()
	require.NotEmpty(t, pushes)
	n := pushes[0].N
	assert.Equal(t, event.ID, n.EventID)
	assert.Equal(t, "c1", n.ConversationID)
	assert.Equal(t, uint64(2), n.Seq)
	assert.Equal(t, chat.KindRoomCreated, n.Kind)
}
