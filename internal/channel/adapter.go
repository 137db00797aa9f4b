package channel

import "context"

// CategoryChannel is the descriptor category a plugin must declare to be
// eligible as a channel connector.
const CategoryChannel = "channel"

// Descriptor holds read-only metadata for a registered plugin. It contains no
// behavior; all behavior is expressed through the capability interfaces.
type Descriptor struct {
	ID               string
	Platform         string
	DisplayName      string
	Icon             string
	Category         string
	Enabled          bool
	RequiredServices []string
}

// Adapter is the base interface every registered plugin implements.
type Adapter interface {
	ID() string
	Descriptor() Descriptor
}

// Connector is the full channel capability surface. A plugin qualifies as a
// channel only when its descriptor declares the channel category and the
// plugin implements this whole interface.
type Connector interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	SendMessage(ctx context.Context, msg OutgoingMessage) (string, error)
	Status() Status
	Platform() string
}

// TypingNotifier is the optional typing-indicator capability.
// Implementations should be best-effort.
type TypingNotifier interface {
	SendTyping(ctx context.Context, chatID string) error
}
