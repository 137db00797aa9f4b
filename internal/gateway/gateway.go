// Package gateway bridges channel connectors to the AI backend: it manages
// connector lifecycle and runs the inbound message pipeline.
package gateway

import (
	"context"
	"log/slog"
	"sync"

	"github.com/chanbridge/chanbridge/internal/ai"
	"github.com/chanbridge/chanbridge/internal/channel"
	"github.com/chanbridge/chanbridge/internal/config"
	"github.com/chanbridge/chanbridge/internal/event"
	"github.com/chanbridge/chanbridge/internal/session"
	"github.com/chanbridge/chanbridge/internal/store"
	"github.com/chanbridge/chanbridge/internal/verify"
)

// BroadcastChannel is the UI broadcast channel gateway payloads go out on.
const BroadcastChannel = "channels"

// Registry is the channel lookup surface the gateway consumes.
type Registry interface {
	GetChannel(pluginID string) (channel.Connector, error)
	ListChannels() []channel.Summary
	GetByPlatform(platform string) []channel.Entry
	All() []channel.Entry
	GetTypingNotifier(pluginID string) (channel.TypingNotifier, bool)
	GetDescriptor(pluginID string) (channel.Descriptor, bool)
}

// Verifier is the identity resolution contract consumed by the router.
type Verifier interface {
	VerifyToken(ctx context.Context, token, platform, platformUserID, displayName, platformUsername string) verify.Result
	VerifyViaWhitelist(ctx context.Context, platform, platformUserID, displayName, backendUserID string) (store.ChannelUser, error)
	ResolveUser(ctx context.Context, platform, platformUserID string) string
}

// UserStore find-or-creates channel users on first contact.
type UserStore interface {
	FindOrCreate(ctx context.Context, user store.ChannelUser) (store.ChannelUser, error)
}

// MessageStore appends to the message audit log.
type MessageStore interface {
	Create(ctx context.Context, msg store.ChannelMessage) (store.ChannelMessage, error)
}

// SessionResolver reconciles sessions and handles the recovery path.
type SessionResolver interface {
	ResolveSession(ctx context.Context, channelUserID, channelID, chatID string, create session.CreateConversation) (store.ChannelSession, error)
	Recover(ctx context.Context, sess store.ChannelSession, create session.CreateConversation) (store.ChannelSession, error)
	Touch(ctx context.Context, sessionID string) error
}

// Dispatcher routes one message into the AI backend.
type Dispatcher interface {
	Dispatch(ctx context.Context, req ai.Request) (string, error)
	CreateConversation(ctx context.Context) (string, error)
}

// Broadcaster is the fire-and-forget UI sink. A nil Broadcaster is tolerated
// everywhere.
type Broadcaster interface {
	Broadcast(channelName string, payload any)
}

// Gateway wires the registry, verification, session reconciliation, and AI
// dispatch together and owns the inbound event subscription.
type Gateway struct {
	registry    Registry
	verifier    Verifier
	users       UserStore
	messages    MessageStore
	sessions    SessionResolver
	dispatcher  Dispatcher
	events      *event.Hub
	broadcaster Broadcaster
	channels    config.ChannelsConfig
	logger      *slog.Logger

	mu       sync.Mutex
	cancel   func()
	inflight sync.WaitGroup
}

// Options collects the gateway's collaborators.
type Options struct {
	Registry    Registry
	Verifier    Verifier
	Users       UserStore
	Messages    MessageStore
	Sessions    SessionResolver
	Dispatcher  Dispatcher
	Events      *event.Hub
	Broadcaster Broadcaster
	Channels    config.ChannelsConfig
	Logger      *slog.Logger
}

// New creates a gateway. Events and Broadcaster may be nil.
func New(opts Options) *Gateway {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		registry:    opts.Registry,
		verifier:    opts.Verifier,
		users:       opts.Users,
		messages:    opts.Messages,
		sessions:    opts.Sessions,
		dispatcher:  opts.Dispatcher,
		events:      opts.Events,
		broadcaster: opts.Broadcaster,
		channels:    opts.Channels,
		logger:      log.With(slog.String("component", "gateway")),
	}
}

// Start subscribes to inbound message events. Each inbound message runs its
// pipeline in its own goroutine, so different chats process concurrently.
func (g *Gateway) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return
	}
	ch, cancelSub := g.events.On(event.TypeMessageReceived, 0)
	done := make(chan struct{})
	g.cancel = func() {
		cancelSub()
		<-done
	}

	// Pipelines are never cancelled mid-flight; disposing the gateway only
	// stops future inbound events.
	pipelineCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		for evt := range ch {
			msg, ok := evt.Data.(channel.IncomingMessage)
			if !ok {
				g.logger.Warn("dropping inbound event with unexpected payload")
				continue
			}
			g.inflight.Add(1)
			go func() {
				defer g.inflight.Done()
				g.ProcessIncomingMessage(pipelineCtx, msg)
			}()
		}
	}()
}

// Dispose tears down the inbound subscription. In-flight pipelines run to
// completion; only future inbound events are stopped.
func (g *Gateway) Dispose() {
	g.mu.Lock()
	cancel := g.cancel
	g.cancel = nil
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	g.inflight.Wait()
}

// ListChannels returns summaries for the enabled qualifying connectors.
func (g *Gateway) ListChannels() []channel.Summary {
	return g.registry.ListChannels()
}

// GetChannel returns the connector for a plugin id.
func (g *Gateway) GetChannel(pluginID string) (channel.Connector, error) {
	return g.registry.GetChannel(pluginID)
}

// GetByPlatform returns the enabled connectors serving a platform.
func (g *Gateway) GetByPlatform(platform string) []channel.Entry {
	return g.registry.GetByPlatform(platform)
}

// ResolveUser returns the backend user id for a verified platform identity.
func (g *Gateway) ResolveUser(ctx context.Context, platform, platformUserID string) string {
	return g.verifier.ResolveUser(ctx, platform, platformUserID)
}

// Connect connects one connector, emitting lifecycle events around the call.
// The connector's own failure propagates to the caller unwrapped.
func (g *Gateway) Connect(ctx context.Context, pluginID string) error {
	conn, err := g.registry.GetChannel(pluginID)
	if err != nil {
		return err
	}
	g.events.Emit(event.Event{Type: event.TypeChannelConnecting, Data: map[string]any{"channel_id": pluginID}})
	if err := conn.Connect(ctx); err != nil {
		return err
	}
	g.events.Emit(event.Event{Type: event.TypeChannelConnected, Data: map[string]any{"channel_id": pluginID}})
	g.broadcastStatus(pluginID, channel.StatusConnected, "")
	return nil
}

// Disconnect disconnects one connector, ending in a disconnected broadcast.
func (g *Gateway) Disconnect(ctx context.Context, pluginID string) error {
	conn, err := g.registry.GetChannel(pluginID)
	if err != nil {
		return err
	}
	if err := conn.Disconnect(ctx); err != nil {
		return err
	}
	g.events.Emit(event.Event{Type: event.TypeChannelDisconnected, Data: map[string]any{"channel_id": pluginID}})
	g.broadcastStatus(pluginID, channel.StatusDisconnected, "")
	return nil
}

// AutoConnectChannels sweeps all qualifying connectors once at boot. A
// connector is attempted only when it declares a required backing service and
// that service has credentials configured. One connector's failure never
// stops the sweep; there is no retry within this component.
func (g *Gateway) AutoConnectChannels(ctx context.Context) {
	for _, entry := range g.registry.All() {
		if entry.Connector.Status() == channel.StatusConnected {
			continue
		}
		desc, ok := g.registry.GetDescriptor(entry.ID)
		if !ok || len(desc.RequiredServices) == 0 {
			continue
		}
		svcCfg, ok := g.channels.ByPlatform(desc.RequiredServices[0])
		if !ok || svcCfg.Token == "" {
			g.logger.Info("skipping auto-connect, service not configured",
				slog.String("channel_id", entry.ID),
				slog.String("service", desc.RequiredServices[0]),
			)
			continue
		}
		if err := g.Connect(ctx, entry.ID); err != nil {
			g.logger.Error("auto-connect failed",
				slog.String("channel_id", entry.ID),
				slog.String("error", err.Error()),
			)
			g.broadcastStatus(entry.ID, channel.StatusError, err.Error())
			continue
		}
		g.logger.Info("channel auto-connected", slog.String("channel_id", entry.ID))
	}
}

// Send delivers one message through a connector, failing fast on connector
// errors. Sent and send-error events are emitted best-effort around the call.
func (g *Gateway) Send(ctx context.Context, pluginID string, msg channel.OutgoingMessage) (string, error) {
	conn, err := g.registry.GetChannel(pluginID)
	if err != nil {
		return "", err
	}
	messageID, err := conn.SendMessage(ctx, msg)
	if err != nil {
		g.events.Emit(event.Event{Type: event.TypeMessageSendError, Data: map[string]any{
			"channel_id": pluginID,
			"chat_id":    msg.ChatID,
			"error":      err.Error(),
		}})
		return "", err
	}
	g.events.Emit(event.Event{Type: event.TypeMessageSent, Data: map[string]any{
		"channel_id": pluginID,
		"chat_id":    msg.ChatID,
		"message_id": messageID,
	}})
	return messageID, nil
}

// Broadcast sends one message through every enabled connector on a platform.
// Per-connector failures are logged so one bad connector does not suppress
// the others; the result holds only the successes.
func (g *Gateway) Broadcast(ctx context.Context, platform string, msg channel.OutgoingMessage) map[string]string {
	delivered := map[string]string{}
	for _, entry := range g.registry.GetByPlatform(platform) {
		messageID, err := entry.Connector.SendMessage(ctx, msg)
		if err != nil {
			g.logger.Warn("broadcast send failed",
				slog.String("channel_id", entry.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		delivered[entry.ID] = messageID
	}
	return delivered
}

// BroadcastAll sends one message through every connector currently reporting
// connected status. Failures are isolated per connector.
func (g *Gateway) BroadcastAll(ctx context.Context, msg channel.OutgoingMessage) map[string]string {
	delivered := map[string]string{}
	for _, entry := range g.registry.All() {
		if entry.Connector.Status() != channel.StatusConnected {
			continue
		}
		messageID, err := entry.Connector.SendMessage(ctx, msg)
		if err != nil {
			g.logger.Warn("broadcast-all send failed",
				slog.String("channel_id", entry.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		delivered[entry.ID] = messageID
	}
	return delivered
}

func (g *Gateway) broadcastStatus(pluginID string, status channel.Status, errText string) {
	if g.broadcaster == nil {
		return
	}
	payload := map[string]any{"channel_id": pluginID, "status": string(status)}
	if errText != "" {
		payload["error"] = errText
	}
	g.broadcaster.Broadcast(BroadcastChannel, payload)
}
