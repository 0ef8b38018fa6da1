package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/persona-chat/internal/domain"
	"github.com/ashureev/persona-chat/internal/store"
)

func newObservedStore(t *testing.T) *store.Observed {
	t.Helper()
	repo := store.NewObserved(store.NewMemory(), store.NewBroadcaster(nil))
	require.NoError(t, repo.CreateConversation(context.Background(), &domain.Conversation{
		ID: "convo-1",
		Participants: []domain.Participant{
			{ID: "user-0", Name: "You"},
			{ID: "ai-1", Name: "AI"},
		},
	}))
	return repo
}

func appendText(t *testing.T, repo store.Repository, id, text string) {
	t.Helper()
	require.NoError(t, repo.AppendMessage(context.Background(), "convo-1", domain.Message{
		ID:        id,
		SenderID:  "user-0",
		Text:      text,
		Timestamp: time.Now(),
		Status:    domain.StatusSent,
	}))
}

func next(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHubForwardsStoreEvents(t *testing.T) {
	t.Parallel()

	repo := newObservedStore(t)
	hub := NewHub(repo.Events(), 10, nil)
	defer hub.Close()

	_, events, unsubscribe := hub.Subscribe("convo-1", 0, 8)
	defer unsubscribe()

	appendText(t, repo, "m1", "hey")
	ev := next(t, events)
	assert.Equal(t, string(store.EventMessageAppended), ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "hey", ev.Message.Text)
	assert.Positive(t, ev.ID)
}

func TestHubTypingPublishesOnlyChanges(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil, 10, nil)
	defer hub.Close()

	_, events, unsubscribe := hub.Subscribe("convo-1", 0, 8)
	defer unsubscribe()

	hub.SetTyping("convo-1", "ai-1", true)
	hub.SetTyping("convo-1", "ai-1", true)
	hub.SetTyping("convo-1", "ai-1", false)

	first := next(t, events)
	require.NotNil(t, first.Typing)
	assert.Equal(t, Typing{ParticipantID: "ai-1", Typing: true}, *first.Typing)
	second := next(t, events)
	assert.False(t, second.Typing.Typing)
	assert.Empty(t, events)
	assert.Empty(t, hub.TypingState("convo-1"))
}

func TestHubIsolatesConversations(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil, 10, nil)
	defer hub.Close()

	_, events, unsubscribe := hub.Subscribe("convo-2", 0, 8)
	defer unsubscribe()

	hub.SetTyping("convo-1", "ai-1", true)
	assert.Empty(t, events)
	assert.Equal(t, map[string]bool{"ai-1": true}, hub.TypingState("convo-1"))
}

func TestHubReplaysMissedEvents(t *testing.T) {
	t.Parallel()

	repo := newObservedStore(t)
	hub := NewHub(repo.Events(), 10, nil)
	defer hub.Close()

	_, live, unsubscribe := hub.Subscribe("convo-1", 0, 8)
	appendText(t, repo, "m1", "one")
	first := next(t, live)
	unsubscribe()

	appendText(t, repo, "m2", "two")
	appendText(t, repo, "m3", "three")
	require.Eventually(t, func() bool { return hub.queue.Len("convo-1") == 3 }, 2*time.Second, 10*time.Millisecond)

	missed, events, unsubscribe := hub.Subscribe("convo-1", first.ID, 8)
	defer unsubscribe()
	require.Len(t, missed, 2)
	assert.Equal(t, "two", missed[0].Message.Text)
	assert.Equal(t, "three", missed[1].Message.Text)
	assert.Empty(t, events)
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil, 10, nil)
	defer hub.Close()

	_, events, unsubscribe := hub.Subscribe("convo-1", 0, 1)
	defer unsubscribe()

	hub.SetTyping("convo-1", "ai-1", true)
	hub.SetTyping("convo-1", "ai-1", false)
	assert.Len(t, events, 1)
	assert.Equal(t, int64(2), hub.LastEventID())
}

func TestReplayQueueEvictsPerConversation(t *testing.T) {
	t.Parallel()

	q := newReplayQueue(2)
	for i := int64(1); i <= 3; i++ {
		q.Enqueue(Event{ID: i, ConversationID: "a"})
	}
	q.Enqueue(Event{ID: 4, ConversationID: "b"})

	got := q.Since("a", 0)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID)
	assert.Equal(t, 1, q.Len("b"))
	assert.Nil(t, q.Since("missing", 0))
}
