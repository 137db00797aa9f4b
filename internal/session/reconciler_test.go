package session

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanbridge/chanbridge/internal/store"
)

type fakeSessions struct {
	mu       sync.Mutex
	rows     []store.ChannelSession
	nextID   int
	creates  int
	touches  []string
	linkFail error
}

func (f *fakeSessions) FindActive(ctx context.Context, channelUserID, channelID, chatID string) (store.ChannelSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.ChannelUserID == channelUserID && row.ChannelID == channelID && row.ChatID == chatID {
			return row, nil
		}
	}
	return store.ChannelSession{}, store.ErrNotFound
}

func (f *fakeSessions) Create(ctx context.Context, session store.ChannelSession) (store.ChannelSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.creates++
	session.ID = fmt.Sprintf("session-%d", f.nextID)
	f.rows = append(f.rows, session)
	return session, nil
}

func (f *fakeSessions) TouchLastMessage(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touches = append(f.touches, id)
	return nil
}

func (f *fakeSessions) LinkConversation(ctx context.Context, id, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.linkFail != nil {
		return f.linkFail
	}
	for i, row := range f.rows {
		if row.ID == id {
			f.rows[i].ConversationID = conversationID
			return nil
		}
	}
	return store.ErrNotFound
}

type fakeConversations struct {
	mu   sync.Mutex
	rows map[string]string
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{rows: map[string]string{}}
}

func (f *fakeConversations) Create(ctx context.Context, id, recoveredFrom string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[id] = recoveredFrom
	return nil
}

func TestResolveSession_CreatesOnce(t *testing.T) {
	t.Parallel()
	sessions := &fakeSessions{}
	conversations := newFakeConversations()
	rec := NewReconciler(nil, NewLocker(), sessions, conversations)

	var conversationCalls int
	var mu sync.Mutex
	create := func(ctx context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		conversationCalls++
		return fmt.Sprintf("conv-%d", conversationCalls), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rec.ResolveSession(context.Background(), "user-1", "telegram-bot", "chat-1", create)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, sessions.creates, "concurrent resolves must create one session")
	assert.Equal(t, 1, conversationCalls, "concurrent resolves must create one conversation")
}

func TestResolveSession_ReturnsExisting(t *testing.T) {
	t.Parallel()
	sessions := &fakeSessions{rows: []store.ChannelSession{{
		ID:             "session-9",
		ChannelUserID:  "user-1",
		ChannelID:      "telegram-bot",
		ChatID:         "chat-1",
		ConversationID: "conv-9",
	}}}
	rec := NewReconciler(nil, NewLocker(), sessions, newFakeConversations())

	resolved, err := rec.ResolveSession(context.Background(), "user-1", "telegram-bot", "chat-1", func(ctx context.Context) (string, error) {
		t.Fatalf("existing session must not create a conversation")
		return "", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "session-9", resolved.ID)
	assert.Equal(t, "conv-9", resolved.ConversationID)
}

func TestRecover_RebindsConversation(t *testing.T) {
	t.Parallel()
	sessions := &fakeSessions{rows: []store.ChannelSession{{
		ID:             "session-1",
		ChannelUserID:  "user-1",
		ChannelID:      "telegram-bot",
		ChatID:         "chat-1",
		ConversationID: "conv-stale",
	}}}
	conversations := newFakeConversations()
	rec := NewReconciler(nil, NewLocker(), sessions, conversations)

	recovered, err := rec.Recover(context.Background(), sessions.rows[0], func(ctx context.Context) (string, error) {
		return "conv-new", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "conv-new", recovered.ConversationID)
	assert.Equal(t, "conv-new", sessions.rows[0].ConversationID, "durable row must carry the new id")
	assert.Equal(t, "conv-stale", conversations.rows["conv-new"], "new conversation must be tagged with the stale id")
}

func TestResolveSession_DifferentChatsConcurrent(t *testing.T) {
	t.Parallel()
	sessions := &fakeSessions{}
	rec := NewReconciler(nil, NewLocker(), sessions, newFakeConversations())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		chat := fmt.Sprintf("chat-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rec.ResolveSession(context.Background(), "user-1", "telegram-bot", chat, func(ctx context.Context) (string, error) {
				return "conv-" + chat, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, sessions.creates)
}
