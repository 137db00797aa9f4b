package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chanbridge/chanbridge/internal/db"
)

// Messages is the append-only message audit log.
type Messages struct {
	pool *pgxpool.Pool
}

func NewMessages(pool *pgxpool.Pool) *Messages {
	return &Messages{pool: pool}
}

// Create appends one log row. Rows are never mutated afterwards.
func (r *Messages) Create(ctx context.Context, msg ChannelMessage) (ChannelMessage, error) {
	contentType := msg.ContentType
	if contentType == "" {
		contentType = "text"
	}
	var attachments []byte
	if len(msg.Attachments) > 0 {
		encoded, err := json.Marshal(msg.Attachments)
		if err != nil {
			return ChannelMessage{}, fmt.Errorf("encode attachments: %w", err)
		}
		attachments = encoded
	}
	metadata := msg.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return ChannelMessage{}, fmt.Errorf("encode metadata: %w", err)
	}

	var id pgtype.UUID
	var createdAt pgtype.Timestamptz
	err = r.pool.QueryRow(ctx, `
		INSERT INTO channel_messages (channel_id, external_message_id, direction, sender_id, sender_name, content, content_type, reply_to_id, attachments, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`,
		msg.ChannelID, db.StringToText(msg.ExternalID), msg.Direction,
		db.StringToText(msg.SenderID), db.StringToText(msg.SenderName),
		msg.Content, contentType, db.StringToText(msg.ReplyToID),
		attachments, metadataJSON,
	).Scan(&id, &createdAt)
	if err != nil {
		return ChannelMessage{}, fmt.Errorf("create channel message: %w", err)
	}
	msg.ID = db.UUIDToString(id)
	msg.ContentType = contentType
	msg.CreatedAt = db.TimeFromPg(createdAt)
	return msg, nil
}
