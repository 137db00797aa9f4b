// Package channel defines the connector capability surface and the registry
// that exposes qualifying connectors to the rest of the gateway.
package channel

import "time"

// Status reports a connector's live connection state.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusConnecting   Status = "connecting"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// Direction marks a logged message as inbound or outbound.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Attachment carries platform attachment metadata. Bytes are never ingested
// here; connectors log references only.
type Attachment struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// IncomingMessage is a platform message normalized by a connector.
type IncomingMessage struct {
	ChannelID      string
	Platform       string
	ExternalID     string
	ChatID         string
	SenderID       string
	SenderName     string
	SenderUsername string
	AvatarURL      string
	Content        string
	ContentType    string
	ReplyToID      string
	Attachments    []Attachment
	Metadata       map[string]any
	ReceivedAt     time.Time
}

// OutgoingMessage is a reply handed to a connector for delivery.
type OutgoingMessage struct {
	ChatID      string
	Content     string
	ContentType string
	ReplyToID   string
	Metadata    map[string]any
}

// Summary is the per-channel record returned by registry listings.
type Summary struct {
	ID          string `json:"id"`
	Platform    string `json:"platform"`
	DisplayName string `json:"display_name"`
	Status      Status `json:"status"`
	Icon        string `json:"icon,omitempty"`
}
