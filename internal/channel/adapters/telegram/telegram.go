// Package telegram implements the Telegram channel connector over long
// polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/chanbridge/chanbridge/internal/channel"
	"github.com/chanbridge/chanbridge/internal/event"
)

const (
	// Platform is the platform name the connector reports.
	Platform = "telegram"
	// DefaultID is the plugin id the connector registers under.
	DefaultID = "telegram-bot"

	pollTimeoutSeconds = 30
)

// Connector is a single-bot Telegram connector. Inbound messages are pushed
// onto the event hub as channel.message.received events.
type Connector struct {
	id     string
	token  string
	events *event.Hub
	logger *slog.Logger

	mu      sync.Mutex
	bot     *tgbotapi.BotAPI
	updates tgbotapi.UpdatesChannel
	cancel  context.CancelFunc
	status  channel.Status
}

// New creates a Telegram connector. An empty token leaves the connector
// registered but disabled.
func New(log *slog.Logger, events *event.Hub, token string) *Connector {
	if log == nil {
		log = slog.Default()
	}
	return &Connector{
		id:     DefaultID,
		token:  strings.TrimSpace(token),
		events: events,
		logger: log.With(slog.String("channel", Platform)),
		status: channel.StatusDisconnected,
	}
}

func (c *Connector) ID() string { return c.id }

func (c *Connector) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		ID:               c.id,
		Platform:         Platform,
		DisplayName:      "Telegram",
		Icon:             "telegram",
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

// Connect starts the long-poll update loop.
func (c *Connector) Connect(ctx context.Context) error {
	if c.token == "" {
		return errors.New("telegram bot token is not configured")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == channel.StatusConnected {
		return nil
	}

	bot, err := tgbotapi.NewBotAPI(c.token)
	if err != nil {
		c.status = channel.StatusError
		return fmt.Errorf("create telegram bot: %w", err)
	}

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = pollTimeoutSeconds
	updates := bot.GetUpdatesChan(updateConfig)

	// The poll loop outlives the connect call's request context.
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.bot = bot
	c.updates = updates
	c.cancel = cancel
	c.status = channel.StatusConnected
	c.logger.Info("connected", slog.String("bot", bot.Self.UserName))

	go c.pollLoop(connCtx, bot, updates)
	return nil
}

func (c *Connector) pollLoop(ctx context.Context, bot *tgbotapi.BotAPI, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				c.logger.Info("updates channel closed")
				return
			}
			if update.Message == nil {
				continue
			}
			msg, ok := c.normalize(update.Message)
			if !ok {
				continue
			}
			c.events.Emit(event.Event{Type: event.TypeMessageReceived, Data: msg})
		}
	}
}

func (c *Connector) normalize(m *tgbotapi.Message) (channel.IncomingMessage, bool) {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		text = strings.TrimSpace(m.Caption)
	}
	var attachments []channel.Attachment
	if len(m.Photo) > 0 {
		photo := m.Photo[len(m.Photo)-1]
		attachments = append(attachments, channel.Attachment{Type: "photo", Name: photo.FileID, Size: int64(photo.FileSize)})
	}
	if m.Document != nil {
		attachments = append(attachments, channel.Attachment{Type: "document", Name: m.Document.FileName, Size: int64(m.Document.FileSize)})
	}
	if text == "" && len(attachments) == 0 {
		return channel.IncomingMessage{}, false
	}
	if m.From == nil || m.Chat == nil {
		return channel.IncomingMessage{}, false
	}

	msg := channel.IncomingMessage{
		ChannelID:      c.id,
		Platform:       Platform,
		ExternalID:     strconv.Itoa(m.MessageID),
		ChatID:         strconv.FormatInt(m.Chat.ID, 10),
		SenderID:       strconv.FormatInt(m.From.ID, 10),
		SenderName:     strings.TrimSpace(m.From.FirstName + " " + m.From.LastName),
		SenderUsername: m.From.UserName,
		Content:        text,
		ContentType:    "text",
		Attachments:    attachments,
		ReceivedAt:     time.Unix(int64(m.Date), 0).UTC(),
	}
	if m.ReplyToMessage != nil {
		msg.ReplyToID = strconv.Itoa(m.ReplyToMessage.MessageID)
	}
	return msg, true
}

// Disconnect stops polling and drains the update channel so the library's
// long-poll goroutine can exit; otherwise a reconnect with the same token
// hits "Conflict: terminated by other getUpdates request".
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	bot := c.bot
	updates := c.updates
	cancel := c.cancel
	c.bot = nil
	c.updates = nil
	c.cancel = nil
	c.status = channel.StatusDisconnected
	c.mu.Unlock()

	if bot != nil {
		bot.StopReceivingUpdates()
	}
	if cancel != nil {
		cancel()
	}
	if updates != nil {
		for range updates {
		}
	}
	c.logger.Info("disconnected")
	return nil
}

// SendMessage delivers one message and returns Telegram's message id.
func (c *Connector) SendMessage(ctx context.Context, msg channel.OutgoingMessage) (string, error) {
	c.mu.Lock()
	bot := c.bot
	c.mu.Unlock()
	if bot == nil {
		return "", errors.New("telegram connector is not connected")
	}

	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid telegram chat id %q: %w", msg.ChatID, err)
	}
	out := tgbotapi.NewMessage(chatID, msg.Content)
	if msg.ReplyToID != "" {
		if replyTo, err := strconv.Atoi(msg.ReplyToID); err == nil {
			out.ReplyToMessageID = replyTo
		}
	}
	sent, err := bot.Send(out)
	if err != nil {
		return "", fmt.Errorf("telegram send: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// SendTyping shows the typing indicator in a chat.
func (c *Connector) SendTyping(ctx context.Context, chatID string) error {
	c.mu.Lock()
	bot := c.bot
	c.mu.Unlock()
	if bot == nil {
		return errors.New("telegram connector is not connected")
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}
	_, err = bot.Request(tgbotapi.NewChatAction(id, tgbotapi.ChatTyping))
	return err
}
