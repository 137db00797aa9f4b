// Package store persists gateway rows in PostgreSQL.
package store

import (
	"errors"
	"time"

	"github.com/chanbridge/chanbridge/internal/channel"
)

// ErrNotFound is returned when a queried row does not exist.
var ErrNotFound = errors.New("row not found")

// ChannelUser is one identity on one platform. The pair
// (platform, platform user id) is unique.
type ChannelUser struct {
	ID               string
	Platform         string
	PlatformUserID   string
	DisplayName      string
	PlatformUsername string
	AvatarURL        string
	BackendUserID    string
	IsVerified       bool
	IsBlocked        bool
	VerifyMethod     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ChannelSession binds a (channel user, plugin, platform chat) triple to a
// conversation id. The conversation id may be rebound by the recovery path.
type ChannelSession struct {
	ID             string
	ChannelUserID  string
	ChannelID      string
	ChatID         string
	ConversationID string
	LastMessageAt  time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ChannelMessage is an immutable audit-log row for one message.
type ChannelMessage struct {
	ID          string
	ChannelID   string
	ExternalID  string
	Direction   string
	SenderID    string
	SenderName  string
	Content     string
	ContentType string
	ReplyToID   string
	Attachments []channel.Attachment
	Metadata    map[string]any
	CreatedAt   time.Time
}
