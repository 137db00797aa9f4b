// Package discord implements the Discord channel connector over the gateway
// websocket.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/chanbridge/chanbridge/internal/channel"
	"github.com/chanbridge/chanbridge/internal/event"
)

const (
	// Platform is the platform name the connector reports.
	Platform = "discord"
	// DefaultID is the plugin id the connector registers under.
	DefaultID = "discord-bot"

	inboundDedupTTL  = time.Minute
	discordMaxLength = 2000
)

// Connector is a single-bot Discord connector. Inbound messages are pushed
// onto the event hub as channel.message.received events.
type Connector struct {
	id     string
	token  string
	events *event.Hub
	logger *slog.Logger

	mu            sync.Mutex
	session       *discordgo.Session
	removeHandler func()
	status        channel.Status
	seenMessages  map[string]time.Time
}

// New creates a Discord connector. An empty token leaves the connector
// registered but disabled.
func New(log *slog.Logger, events *event.Hub, token string) *Connector {
	if log == nil {
		log = slog.Default()
	}
	return &Connector{
		id:           DefaultID,
		token:        strings.TrimSpace(token),
		events:       events,
		logger:       log.With(slog.String("channel", Platform)),
		status:       channel.StatusDisconnected,
		seenMessages: make(map[string]time.Time),
	}
}

func (c *Connector) ID() string { return c.id }

func (c *Connector) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		ID:               c.id,
		Platform:         Platform,
		DisplayName:      "Discord",
		Icon:             "discord",
		Category:         channel.CategoryChannel,
		Enabled:          c.token != "",
		RequiredServices: []string{Platform},
	}
}

func (c *Connector) Platform() string { return Platform }

func (c *Connector) Status() channel.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connect opens the gateway session and starts receiving message events.
func (c *Connector) Connect(ctx context.Context) error {
	if c.token == "" {
		return errors.New("discord bot token is not configured")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == channel.StatusConnected {
		return nil
	}

	session, err := discordgo.New("Bot " + c.token)
	if err != nil {
		c.status = channel.StatusError
		return fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	remove := session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		c.handleMessage(s, m)
	})

	if err := session.Open(); err != nil {
		remove()
		c.status = channel.StatusError
		return fmt.Errorf("discord open connection: %w", err)
	}

	c.session = session
	c.removeHandler = remove
	c.status = channel.StatusConnected
	c.logger.Info("connected")
	return nil
}

func (c *Connector) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if c.isDuplicateInbound(m.ID) {
		return
	}

	text := strings.TrimSpace(m.Content)
	attachments := collectAttachments(m.Message)
	if text == "" && len(attachments) == 0 {
		return
	}

	msg := channel.IncomingMessage{
		ChannelID:      c.id,
		Platform:       Platform,
		ExternalID:     m.ID,
		ChatID:         m.ChannelID,
		SenderID:       m.Author.ID,
		SenderName:     m.Author.GlobalName,
		SenderUsername: m.Author.Username,
		AvatarURL:      m.Author.AvatarURL(""),
		Content:        text,
		ContentType:    "text",
		Attachments:    attachments,
		ReceivedAt:     time.Now().UTC(),
	}
	if msg.SenderName == "" {
		msg.SenderName = m.Author.Username
	}
	if m.ReferencedMessage != nil {
		msg.ReplyToID = m.ReferencedMessage.ID
	}
	if m.GuildID != "" {
		msg.Metadata = map[string]any{"guild_id": m.GuildID}
	}

	c.events.Emit(event.Event{Type: event.TypeMessageReceived, Data: msg})
}

// Disconnect closes the gateway session.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	remove := c.removeHandler
	c.session = nil
	c.removeHandler = nil
	c.status = channel.StatusDisconnected
	c.mu.Unlock()

	if remove != nil {
		remove()
	}
	if session != nil {
		if err := session.Close(); err != nil {
			return fmt.Errorf("discord close connection: %w", err)
		}
	}
	c.logger.Info("disconnected")
	return nil
}

// SendMessage delivers one message and returns Discord's message id.
func (c *Connector) SendMessage(ctx context.Context, msg channel.OutgoingMessage) (string, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return "", errors.New("discord connector is not connected")
	}

	chatID := strings.TrimSpace(msg.ChatID)
	if chatID == "" {
		return "", errors.New("discord chat id is required")
	}

	text := truncateText(msg.Content)
	var sent *discordgo.Message
	var err error
	if msg.ReplyToID != "" {
		sent, err = session.ChannelMessageSendReply(chatID, text, &discordgo.MessageReference{
			ChannelID: chatID,
			MessageID: msg.ReplyToID,
		})
	} else {
		sent, err = session.ChannelMessageSend(chatID, text)
	}
	if err != nil {
		return "", fmt.Errorf("discord send: %w", err)
	}
	return sent.ID, nil
}

// SendTyping shows the typing indicator in a channel.
func (c *Connector) SendTyping(ctx context.Context, chatID string) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return errors.New("discord connector is not connected")
	}
	return session.ChannelTyping(chatID)
}

// The gateway occasionally redelivers MESSAGE_CREATE after a resume; a short
// seen-window keeps the pipeline from running twice for the same message.
func (c *Connector) isDuplicateInbound(messageID string) bool {
	if messageID == "" {
		return false
	}

	now := time.Now().UTC()
	expireBefore := now.Add(-inboundDedupTTL)

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, seenAt := range c.seenMessages {
		if seenAt.Before(expireBefore) {
			delete(c.seenMessages, key)
		}
	}

	if _, ok := c.seenMessages[messageID]; ok {
		return true
	}
	c.seenMessages[messageID] = now
	return false
}

func collectAttachments(msg *discordgo.Message) []channel.Attachment {
	if msg == nil || len(msg.Attachments) == 0 {
		return nil
	}
	attachments := make([]channel.Attachment, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		kind := "file"
		switch {
		case strings.HasPrefix(att.ContentType, "image/"):
			kind = "image"
		case strings.HasPrefix(att.ContentType, "video/"):
			kind = "video"
		case strings.HasPrefix(att.ContentType, "audio/"):
			kind = "audio"
		}
		attachments = append(attachments, channel.Attachment{
			Type: kind,
			URL:  att.URL,
			Name: att.Filename,
			Size: int64(att.Size),
		})
	}
	return attachments
}

func truncateText(text string) string {
	runes := []rune(text)
	if len(runes) <= discordMaxLength {
		return text
	}
	return string(runes[:discordMaxLength-3]) + "..."
}
