package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chanbridge/chanbridge/internal/db"
)

// Sessions is the channel-session repository. Uniqueness of the active
// session per (user, plugin, chat) triple is enforced by the reconciler's
// per-key lock, not by a constraint here.
type Sessions struct {
	pool *pgxpool.Pool
}

func NewSessions(pool *pgxpool.Pool) *Sessions {
	return &Sessions{pool: pool}
}

const sessionColumns = `id, channel_user_id, channel_id, chat_id, conversation_id,
	last_message_at, created_at, updated_at`

// FindActive returns the newest session for the triple, or ErrNotFound.
func (r *Sessions) FindActive(ctx context.Context, channelUserID, channelID, chatID string) (ChannelSession, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM channel_sessions
		WHERE channel_user_id = $1 AND channel_id = $2 AND chat_id = $3
		ORDER BY created_at DESC
		LIMIT 1`,
		channelUserID, channelID, chatID,
	)
	session, err := scanSession(row)
	if err == pgx.ErrNoRows {
		return ChannelSession{}, ErrNotFound
	}
	if err != nil {
		return ChannelSession{}, fmt.Errorf("find active session: %w", err)
	}
	return session, nil
}

// Create inserts a new session row.
func (r *Sessions) Create(ctx context.Context, session ChannelSession) (ChannelSession, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO channel_sessions (channel_user_id, channel_id, chat_id, conversation_id, last_message_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), now())
		RETURNING `+sessionColumns,
		session.ChannelUserID, session.ChannelID, session.ChatID, session.ConversationID,
	)
	created, err := scanSession(row)
	if err != nil {
		return ChannelSession{}, fmt.Errorf("create session: %w", err)
	}
	return created, nil
}

// TouchLastMessage updates the session's last-message timestamp.
func (r *Sessions) TouchLastMessage(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE channel_sessions
		SET last_message_at = now(), updated_at = now()
		WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// LinkConversation rebinds the session to a conversation id.
func (r *Sessions) LinkConversation(ctx context.Context, id, conversationID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE channel_sessions
		SET conversation_id = $2, updated_at = now()
		WHERE id = $1`,
		id, conversationID,
	)
	if err != nil {
		return fmt.Errorf("link session conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSession(row pgx.Row) (ChannelSession, error) {
	var (
		session        ChannelSession
		id, userID     pgtype.UUID
		conversationID pgtype.Text
		lastMessageAt  pgtype.Timestamptz
		createdAt      pgtype.Timestamptz
		updatedAt      pgtype.Timestamptz
	)
	err := row.Scan(
		&id, &userID, &session.ChannelID, &session.ChatID, &conversationID,
		&lastMessageAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return ChannelSession{}, err
	}
	session.ID = db.UUIDToString(id)
	session.ChannelUserID = db.UUIDToString(userID)
	session.ConversationID = db.TextToString(conversationID)
	session.LastMessageAt = db.TimeFromPg(lastMessageAt)
	session.CreatedAt = db.TimeFromPg(createdAt)
	session.UpdatedAt = db.TimeFromPg(updatedAt)
	return session, nil
}
