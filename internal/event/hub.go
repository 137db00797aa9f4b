// Package event provides the in-process gateway event hub.
package event

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

const (
	// DefaultBufferSize is the default per-subscriber channel buffer.
	DefaultBufferSize = 64
)

// Type identifies an event category published on the hub.
type Type string

const (
	TypeChannelConnecting   Type = "channel.connecting"
	TypeChannelConnected    Type = "channel.connected"
	TypeChannelDisconnected Type = "channel.disconnected"
	TypeMessageReceived     Type = "channel.message.received"
	TypeMessageSent         Type = "channel.message.sent"
	TypeMessageSendError    Type = "channel.message.send_error"
	TypeUserVerified        Type = "channel.user.verified"
)

// Event is the normalized payload carried by the hub.
type Event struct {
	Type Type `json:"type"`
	Data any  `json:"data,omitempty"`
}

// Publisher publishes events to subscribers.
type Publisher interface {
	Emit(event Event)
}

// Hub is an in-process pub/sub dispatcher keyed by event type. A nil *Hub is
// a valid no-op publisher, so callers never need to guard emission.
type Hub struct {
	mu      sync.RWMutex
	streams map[Type]map[string]chan Event
}

// NewHub creates an empty event hub.
func NewHub() *Hub {
	return &Hub{
		streams: map[Type]map[string]chan Event{},
	}
}

// Emit broadcasts one event to all subscribers of its type.
// Slow subscribers are dropped in a non-blocking way.
func (h *Hub) Emit(event Event) {
	if h == nil {
		return
	}
	eventType := Type(strings.TrimSpace(string(event.Type)))
	if eventType == "" {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.streams[eventType] {
		select {
		case ch <- event:
		default:
			// Drop if receiver is slow to avoid blocking the emitter.
		}
	}
}

// On registers one subscriber for an event type.
// It returns a read-only event channel and a cancel function.
func (h *Hub) On(eventType Type, buffer int) (<-chan Event, func()) {
	if h == nil || strings.TrimSpace(string(eventType)) == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}

	streamID := uuid.NewString()
	ch := make(chan Event, buffer)

	h.mu.Lock()
	streams, ok := h.streams[eventType]
	if !ok {
		streams = map[string]chan Event{}
		h.streams[eventType] = streams
	}
	streams[streamID] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			streams := h.streams[eventType]
			if streams != nil {
				if current, ok := streams[streamID]; ok {
					delete(streams, streamID)
					close(current)
				}
				if len(streams) == 0 {
					delete(h.streams, eventType)
				}
			}
			h.mu.Unlock()
		})
	}

	return ch, cancel
}
