package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/chanbridge/chanbridge/internal/ai"
	"github.com/chanbridge/chanbridge/internal/channel"
	"github.com/chanbridge/chanbridge/internal/store"
	"github.com/chanbridge/chanbridge/internal/verify"
)

const (
	connectCommandPrefix = "/connect "

	verifySuccessReply = "Verification successful. You can chat with the assistant now."
	verifyFailedPrefix = "Verification failed: "
	verifyPromptReply  = "Please verify your identity first: send /connect TOKEN with a token from your operator."
)

// ProcessIncomingMessage runs the whole pipeline for one inbound message.
// Any error outside the pipeline's explicit halts is caught here, classified,
// replied best-effort, and swallowed; one message's failure never crashes the
// listener loop.
func (g *Gateway) ProcessIncomingMessage(ctx context.Context, msg channel.IncomingMessage) {
	if err := g.runPipeline(ctx, msg); err != nil {
		g.logger.Error("message pipeline failed",
			slog.String("channel_id", msg.ChannelID),
			slog.String("chat_id", msg.ChatID),
			slog.String("error", err.Error()),
		)
		g.replyBestEffort(ctx, msg, ai.ClassifyError(err))
	}
}

func (g *Gateway) runPipeline(ctx context.Context, msg channel.IncomingMessage) error {
	// UserResolved
	user, err := g.users.FindOrCreate(ctx, store.ChannelUser{
		Platform:         msg.Platform,
		PlatformUserID:   msg.SenderID,
		DisplayName:      msg.SenderName,
		PlatformUsername: msg.SenderUsername,
		AvatarURL:        msg.AvatarURL,
	})
	if err != nil {
		return err
	}

	// BlockCheck: halt with no reply and no side effects.
	if user.IsBlocked {
		g.logger.Info("dropping message from blocked user",
			slog.String("platform", msg.Platform),
			slog.String("platform_user_id", msg.SenderID),
		)
		return nil
	}

	// CommandCheck: token redemption halts before any session work.
	if strings.HasPrefix(msg.Content, connectCommandPrefix) {
		g.handleConnectCommand(ctx, msg)
		return nil
	}

	// VerificationGate
	if !user.IsVerified {
		proceed, err := g.verificationGate(ctx, msg, &user)
		if err != nil {
			return err
		}
		if !proceed {
			return nil
		}
	}

	// PersistInbound: the audit log is best-effort.
	if _, err := g.messages.Create(ctx, store.ChannelMessage{
		ChannelID:   msg.ChannelID,
		ExternalID:  msg.ExternalID,
		Direction:   string(channel.DirectionInbound),
		SenderID:    msg.SenderID,
		SenderName:  msg.SenderName,
		Content:     msg.Content,
		ContentType: msg.ContentType,
		ReplyToID:   msg.ReplyToID,
		Attachments: msg.Attachments,
		Metadata:    msg.Metadata,
	}); err != nil {
		g.logger.Warn("persist inbound message failed", slog.String("error", err.Error()))
	}

	// BroadcastInbound
	if g.broadcaster != nil {
		g.broadcaster.Broadcast(BroadcastChannel, map[string]any{
			"type":       "message.inbound",
			"channel_id": msg.ChannelID,
			"chat_id":    msg.ChatID,
			"sender":     msg.SenderName,
			"content":    msg.Content,
		})
	}

	// SessionResolve
	sess, err := g.sessions.ResolveSession(ctx, user.ID, msg.ChannelID, msg.ChatID, g.dispatcher.CreateConversation)
	if err != nil {
		return err
	}

	// TouchSession
	if err := g.sessions.Touch(ctx, sess.ID); err != nil {
		g.logger.Warn("touch session failed", slog.String("session_id", sess.ID), slog.String("error", err.Error()))
	}

	// TypingIndicator
	if notifier, ok := g.registry.GetTypingNotifier(msg.ChannelID); ok {
		if err := notifier.SendTyping(ctx, msg.ChatID); err != nil {
			g.logger.Warn("typing indicator failed", slog.String("channel_id", msg.ChannelID), slog.String("error", err.Error()))
		}
	}

	// AIDispatch, with the conversation recovery sub-path.
	backendUserID := user.BackendUserID
	if backendUserID == "" {
		backendUserID = verify.DefaultBackendUserID
	}
	request := ai.Request{
		ConversationID: sess.ConversationID,
		BackendUserID:  backendUserID,
		Content:        msg.Content,
		Platform:       msg.Platform,
		ChannelID:      msg.ChannelID,
	}
	response, err := g.dispatcher.Dispatch(ctx, request)
	if errors.Is(err, ai.ErrConversationNotFound) {
		sess, err = g.sessions.Recover(ctx, sess, g.dispatcher.CreateConversation)
		if err != nil {
			return err
		}
		request.ConversationID = sess.ConversationID
		response, err = g.dispatcher.Dispatch(ctx, request)
	}
	if err != nil {
		return err
	}

	// ResponseGuard
	response = ai.GuardResponse(response)

	// DeliverResponse: a connector that disappeared mid-pipeline halts
	// silently, there is nothing left to reply through.
	conn, err := g.registry.GetChannel(msg.ChannelID)
	if err != nil {
		g.logger.Warn("connector disappeared before delivery", slog.String("channel_id", msg.ChannelID))
		return nil
	}
	sentID, err := conn.SendMessage(ctx, channel.OutgoingMessage{
		ChatID:  msg.ChatID,
		Content: response,
	})
	if err != nil {
		return err
	}

	// PersistOutbound + BroadcastOutbound
	if _, err := g.messages.Create(ctx, store.ChannelMessage{
		ChannelID:   msg.ChannelID,
		ExternalID:  sentID,
		Direction:   string(channel.DirectionOutbound),
		Content:     response,
		ContentType: "text",
		ReplyToID:   msg.ExternalID,
	}); err != nil {
		g.logger.Warn("persist outbound message failed", slog.String("error", err.Error()))
	}
	if g.broadcaster != nil {
		g.broadcaster.Broadcast(BroadcastChannel, map[string]any{
			"type":       "message.outbound",
			"channel_id": msg.ChannelID,
			"chat_id":    msg.ChatID,
			"content":    response,
		})
	}
	return nil
}

// handleConnectCommand redeems the rest of the command as a one-time token
// and replies with the outcome. It never reaches session resolution.
func (g *Gateway) handleConnectCommand(ctx context.Context, msg channel.IncomingMessage) {
	token := strings.TrimSpace(strings.TrimPrefix(msg.Content, connectCommandPrefix))
	result := g.verifier.VerifyToken(ctx, token, msg.Platform, msg.SenderID, msg.SenderName, msg.SenderUsername)
	if result.Success {
		g.replyBestEffort(ctx, msg, verifySuccessReply)
		return
	}
	g.replyBestEffort(ctx, msg, verifyFailedPrefix+result.Error)
}

// verificationGate applies the whitelist policy for unverified users. It
// reports whether the pipeline should continue.
func (g *Gateway) verificationGate(ctx context.Context, msg channel.IncomingMessage, user *store.ChannelUser) (bool, error) {
	var allowed []string
	if cfg, ok := g.channels.ByPlatform(msg.Platform); ok {
		allowed = cfg.AllowedUsers
	}
	// An empty list means no restriction is configured: open access, without
	// auto-verifying the user.
	if len(allowed) == 0 {
		return true, nil
	}
	if verify.CheckWhitelist(allowed, msg.SenderID) {
		verified, err := g.verifier.VerifyViaWhitelist(ctx, msg.Platform, msg.SenderID, msg.SenderName, "")
		if err != nil {
			return false, err
		}
		*user = verified
		return true, nil
	}
	g.replyBestEffort(ctx, msg, verifyPromptReply)
	return false, nil
}

func (g *Gateway) replyBestEffort(ctx context.Context, msg channel.IncomingMessage, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	conn, err := g.registry.GetChannel(msg.ChannelID)
	if err != nil {
		return
	}
	if _, err := conn.SendMessage(ctx, channel.OutgoingMessage{ChatID: msg.ChatID, Content: text}); err != nil {
		g.logger.Warn("best-effort reply failed",
			slog.String("channel_id", msg.ChannelID),
			slog.String("error", err.Error()),
		)
	}
}
