package gateway_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanbridge/chanbridge/internal/ai"
	"github.com/chanbridge/chanbridge/internal/channel"
	"github.com/chanbridge/chanbridge/internal/config"
	"github.com/chanbridge/chanbridge/internal/store"
	"github.com/chanbridge/chanbridge/internal/verify"
)

func TestPipeline_BlockedUserHasZeroSideEffects(t *testing.T) {
	t.Parallel()
	tg := newTestGateway(t, config.ChannelsConfig{})
	tg.users.put(store.ChannelUser{
		ID:             "user-alice",
		Platform:       "telegram",
		PlatformUserID: "alice",
		IsVerified:     true,
		IsBlocked:      true,
	})

	tg.gw.ProcessIncomingMessage(context.Background(), inbound("Hello"))

	assert.Zero(t, tg.messages.count(), "blocked user must not reach persistence")
	assert.Empty(t, tg.dispatcher.dispatched(), "blocked user must not reach AI dispatch")
	assert.Empty(t, tg.connector.sentMessages(), "blocked user must get no reply")
}

func TestPipeline_ConnectCommandHaltsBeforeSessionLookup(t *testing.T) {
	t.Parallel()
	tg := newTestGateway(t, config.ChannelsConfig{})
	tg.verifier.tokenResult = verify.Result{Success: false, Error: verify.FailureReply}
	tg.users.put(store.ChannelUser{
		ID:             "user-alice",
		Platform:       "telegram",
		PlatformUserID: "alice",
		IsVerified:     true,
	})

	tg.gw.ProcessIncomingMessage(context.Background(), inbound("/connect abc123"))

	require.Equal(t, []string{"abc123"}, tg.verifier.tokenCalls)
	assert.Zero(t, tg.sessions.resolveCalls, "token redemption must halt before any session lookup")
	assert.Empty(t, tg.dispatcher.dispatched())

	sent := tg.connector.sentMessages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Content, "Verification failed")
}

func TestPipeline_ConnectCommandSuccessReply(t *testing.T) {
	t.Parallel()
	tg := newTestGateway(t, config.ChannelsConfig{})
	tg.verifier.tokenResult = verify.Result{Success: true, BackendUserID: "backend-1"}

	tg.gw.ProcessIncomingMessage(context.Background(), inbound("/connect GOODTOKEN"))

	assert.Zero(t, tg.sessions.resolveCalls)
	sent := tg.connector.sentMessages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Content, "Verification successful")
}

func TestPipeline_EmptyWhitelistIsOpenAccess(t *testing.T) {
	t.Parallel()
	tg := newTestGateway(t, config.ChannelsConfig{})

	tg.gw.ProcessIncomingMessage(context.Background(), inbound("Hello"))

	assert.Empty(t, tg.verifier.whitelistCalls, "empty whitelist must not auto-verify")
	requests := tg.dispatcher.dispatched()
	require.Len(t, requests, 1, "open access message must reach AI dispatch")
	assert.Equal(t, "Hello", requests[0].Content)
}

func TestPipeline_WhitelistMemberAutoVerified(t *testing.T) {
	t.Parallel()
	tg := newTestGateway(t, config.ChannelsConfig{
		Telegram: config.ChannelConfig{AllowedUsers: []string{"alice", "bob"}},
	})

	tg.gw.ProcessIncomingMessage(context.Background(), inbound("Hello"))

	require.Equal(t, []string{"telegram:alice:Alice"}, tg.verifier.whitelistCalls)
	assert.GreaterOrEqual(t, tg.messages.count(), 1, "message must be persisted after auto-verify")
	require.Len(t, tg.dispatcher.dispatched(), 1)
}

func TestPipeline_WhitelistNonMemberGetsPromptAndHalts(t *testing.T) {
	t.Parallel()
	tg := newTestGateway(t, config.ChannelsConfig{
		Telegram: config.ChannelConfig{AllowedUsers: []string{"bob"}},
	})

	tg.gw.ProcessIncomingMessage(context.Background(), inbound("Hello"))

	assert.Empty(t, tg.verifier.whitelistCalls)
	assert.Empty(t, tg.dispatcher.dispatched())
	assert.Zero(t, tg.sessions.resolveCalls)

	sent := tg.connector.sentMessages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Content, "/connect")
}

func TestPipeline_EmptyResponseReplacedByPlaceholder(t *testing.T) {
	t.Parallel()
	tg := newTestGateway(t, config.ChannelsConfig{})
	tg.dispatcher.responses["conv-1"] = "   \n "

	tg.gw.ProcessIncomingMessage(context.Background(), inbound("Hello"))

	sent := tg.connector.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, ai.EmptyResponsePlaceholder, sent[0].Content)
}

func TestPipeline_RecoveryDispatchesWithNewConversationID(t *testing.T) {
	t.Parallel()
	tg := newTestGateway(t, config.ChannelsConfig{})
	tg.users.put(store.ChannelUser{
		ID:             "user-alice",
		Platform:       "telegram",
		PlatformUserID: "alice",
		IsVerified:     true,
		BackendUserID:  "backend-1",
	})
	// Pre-seed a session bound to a conversation the backend has forgotten.
	_, err := tg.sessions.ResolveSession(context.Background(), "user-alice", "telegram-bot", "chat-1", func(ctx context.Context) (string, error) {
		return "conv-stale", nil
	})
	require.NoError(t, err)
	tg.dispatcher.errs["conv-stale"] = ai.ErrConversationNotFound

	tg.gw.ProcessIncomingMessage(context.Background(), inbound("Hello"))

	assert.Equal(t, 1, tg.sessions.recoverCalls)
	requests := tg.dispatcher.dispatched()
	require.Len(t, requests, 2, "dispatch must be retried after recovery")
	assert.Equal(t, "conv-stale", requests[0].ConversationID)
	assert.NotEqual(t, "conv-stale", requests[1].ConversationID, "retry must carry the new conversation id")

	sent := tg.connector.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "reply to: Hello", sent[0].Content)
}

func TestPipeline_PersistFailureIsTolerated(t *testing.T) {
	t.Parallel()
	tg := newTestGateway(t, config.ChannelsConfig{})
	tg.messages.failing = true

	tg.gw.ProcessIncomingMessage(context.Background(), inbound("Hello"))

	require.Len(t, tg.dispatcher.dispatched(), 1, "audit-log failure must not stop the pipeline")
	require.Len(t, tg.connector.sentMessages(), 1)
}

func TestPipeline_InboundAttachmentsAndMetadataPersisted(t *testing.T) {
	t.Parallel()
	tg := newTestGateway(t, config.ChannelsConfig{})

	msg := inbound("see the file")
	msg.Attachments = []channel.Attachment{{Type: "document", URL: "https://files.example/report.pdf", Name: "report.pdf", Size: 2048}}
	msg.Metadata = map[string]any{"message_thread_id": "42"}
	tg.gw.ProcessIncomingMessage(context.Background(), msg)

	require.GreaterOrEqual(t, tg.messages.count(), 1)
	row := tg.messages.rows[0]
	assert.Equal(t, string(channel.DirectionInbound), row.Direction)
	require.Len(t, row.Attachments, 1, "inbound attachments must reach the audit log")
	assert.Equal(t, "report.pdf", row.Attachments[0].Name)
	assert.Equal(t, map[string]any{"message_thread_id": "42"}, row.Metadata)
}

func TestPipeline_AIErrorClassifiedAndReplied(t *testing.T) {
	t.Parallel()
	tg := newTestGateway(t, config.ChannelsConfig{})
	tg.dispatcher.err = errors.New("no provider configured for model gpt-x")

	tg.gw.ProcessIncomingMessage(context.Background(), inbound("Hello"))

	sent := tg.connector.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, ai.NoProviderReply, sent[0].Content)
}

func TestPipeline_GenericAIErrorTruncatedReply(t *testing.T) {
	t.Parallel()
	tg := newTestGateway(t, config.ChannelsConfig{})
	tg.dispatcher.err = errors.New(strings.Repeat("z", 400))

	tg.gw.ProcessIncomingMessage(context.Background(), inbound("Hello"))

	sent := tg.connector.sentMessages()
	require.Len(t, sent, 1)
	assert.True(t, strings.HasSuffix(sent[0].Content, "..."), "generic error reply must be truncated")
}

func TestPipeline_SecondMessageReusesSession(t *testing.T) {
	t.Parallel()
	tg := newTestGateway(t, config.ChannelsConfig{})

	tg.gw.ProcessIncomingMessage(context.Background(), inbound("first"))
	tg.gw.ProcessIncomingMessage(context.Background(), inbound("second"))

	requests := tg.dispatcher.dispatched()
	require.Len(t, requests, 2)
	assert.Equal(t, requests[0].ConversationID, requests[1].ConversationID, "same chat must keep one conversation")
}
