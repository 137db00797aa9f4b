package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chanbridge/chanbridge/internal/store"
)

// Store is the session persistence the reconciler depends on.
type Store interface {
	FindActive(ctx context.Context, channelUserID, channelID, chatID string) (store.ChannelSession, error)
	Create(ctx context.Context, session store.ChannelSession) (store.ChannelSession, error)
	TouchLastMessage(ctx context.Context, id string) error
	LinkConversation(ctx context.Context, id, conversationID string) error
}

// ConversationStore records conversation ids the gateway creates.
type ConversationStore interface {
	Create(ctx context.Context, id, recoveredFrom string) error
}

// CreateConversation asks the AI backend for a fresh conversation id.
type CreateConversation func(ctx context.Context) (string, error)

// Reconciler maps (channel user, plugin, chat) triples to durable sessions,
// creating the backing conversation lazily. All reconciliation for one triple
// is serialized through the per-key locker, which is what guarantees at most
// one session per triple inside this process.
type Reconciler struct {
	locker        *Locker
	sessions      Store
	conversations ConversationStore
	logger        *slog.Logger
}

func NewReconciler(log *slog.Logger, locker *Locker, sessions Store, conversations ConversationStore) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	if locker == nil {
		locker = NewLocker()
	}
	return &Reconciler{
		locker:        locker,
		sessions:      sessions,
		conversations: conversations,
		logger:        log.With(slog.String("component", "session_reconciler")),
	}
}

// Key builds the lock key for a (channel user, plugin, chat) triple.
func Key(channelUserID, channelID, chatID string) string {
	return fmt.Sprintf("%s:%s:%s", channelUserID, channelID, chatID)
}

// ResolveSession returns the active session for the triple, creating the
// conversation and session on first contact. Concurrent calls for the same
// triple produce exactly one session.
func (r *Reconciler) ResolveSession(ctx context.Context, channelUserID, channelID, chatID string, create CreateConversation) (store.ChannelSession, error) {
	var resolved store.ChannelSession
	err := r.locker.WithLock(ctx, Key(channelUserID, channelID, chatID), func(ctx context.Context) error {
		existing, err := r.sessions.FindActive(ctx, channelUserID, channelID, chatID)
		if err == nil {
			resolved = existing
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("find active session: %w", err)
		}

		conversationID, err := create(ctx)
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		if err := r.conversations.Create(ctx, conversationID, ""); err != nil {
			return err
		}
		created, err := r.sessions.Create(ctx, store.ChannelSession{
			ChannelUserID:  channelUserID,
			ChannelID:      channelID,
			ChatID:         chatID,
			ConversationID: conversationID,
		})
		if err != nil {
			return err
		}
		r.logger.Info("session created",
			slog.String("session_id", created.ID),
			slog.String("channel_id", channelID),
			slog.String("conversation_id", conversationID),
		)
		resolved = created
		return nil
	})
	return resolved, err
}

// Recover rebinds a session whose recorded conversation id the AI backend no
// longer knows. A fresh conversation is created under a new id, tagged with
// the stale id for audit, and the session row is rewritten. History prior to
// recovery is not replayed.
func (r *Reconciler) Recover(ctx context.Context, session store.ChannelSession, create CreateConversation) (store.ChannelSession, error) {
	staleID := session.ConversationID
	conversationID, err := create(ctx)
	if err != nil {
		return store.ChannelSession{}, fmt.Errorf("create recovery conversation: %w", err)
	}
	if err := r.conversations.Create(ctx, conversationID, staleID); err != nil {
		return store.ChannelSession{}, err
	}
	if err := r.sessions.LinkConversation(ctx, session.ID, conversationID); err != nil {
		return store.ChannelSession{}, fmt.Errorf("rebind session conversation: %w", err)
	}
	r.logger.Warn("session conversation recovered",
		slog.String("session_id", session.ID),
		slog.String("stale_conversation_id", staleID),
		slog.String("conversation_id", conversationID),
	)
	session.ConversationID = conversationID
	return session, nil
}

// Touch updates the session's last-message timestamp. Failures are the
// caller's to tolerate.
func (r *Reconciler) Touch(ctx context.Context, sessionID string) error {
	return r.sessions.TouchLastMessage(ctx, sessionID)
}
