package channel

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrChannelNotFound is returned for unknown or disqualified plugin ids.
var ErrChannelNotFound = errors.New("channel not found")

// Registry holds all registered plugins and exposes only those qualifying as
// channels. It must be created via NewRegistry and passed explicitly to
// components that need it.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: map[string]Adapter{},
	}
}

// Register adds a plugin to the registry.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return fmt.Errorf("adapter is nil")
	}
	id := normalizeID(adapter.ID())
	if id == "" {
		return fmt.Errorf("plugin id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[id]; exists {
		return fmt.Errorf("plugin already registered: %s", id)
	}
	r.adapters[id] = adapter
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(adapter Adapter) {
	if err := r.Register(adapter); err != nil {
		panic(err)
	}
}

// Unregister removes a plugin from the registry.
func (r *Registry) Unregister(pluginID string) bool {
	id := normalizeID(pluginID)
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[id]; !exists {
		return false
	}
	delete(r.adapters, id)
	return true
}

// Get returns the raw adapter for the given plugin id.
func (r *Registry) Get(pluginID string) (Adapter, bool) {
	id := normalizeID(pluginID)
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[id]
	return adapter, ok
}

// GetChannel returns the channel capability surface for the given plugin id,
// or ErrChannelNotFound when the id is unknown or the plugin does not qualify.
func (r *Registry) GetChannel(pluginID string) (Connector, error) {
	adapter, ok := r.Get(pluginID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, pluginID)
	}
	conn, ok := qualify(adapter)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, pluginID)
	}
	return conn, nil
}

// ListChannels returns one summary per enabled qualifying plugin.
func (r *Registry) ListChannels() []Summary {
	items := make([]Summary, 0)
	for _, entry := range r.channels() {
		desc := entry.adapter.Descriptor()
		if !desc.Enabled {
			continue
		}
		items = append(items, Summary{
			ID:          entry.id,
			Platform:    entry.conn.Platform(),
			DisplayName: desc.DisplayName,
			Status:      entry.conn.Status(),
			Icon:        desc.Icon,
		})
	}
	return items
}

// Entry pairs a qualifying plugin id with its channel capability surface.
type Entry struct {
	ID        string
	Connector Connector
}

// GetByPlatform returns the enabled qualifying plugins serving a platform.
func (r *Registry) GetByPlatform(platform string) []Entry {
	platform = strings.ToLower(strings.TrimSpace(platform))
	items := make([]Entry, 0)
	for _, entry := range r.channels() {
		if !entry.adapter.Descriptor().Enabled {
			continue
		}
		if strings.ToLower(entry.conn.Platform()) != platform {
			continue
		}
		items = append(items, Entry{ID: entry.id, Connector: entry.conn})
	}
	return items
}

// All returns every qualifying plugin regardless of enabled state.
func (r *Registry) All() []Entry {
	entries := r.channels()
	items := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		items = append(items, Entry{ID: entry.id, Connector: entry.conn})
	}
	return items
}

// GetTypingNotifier returns the typing capability for the given plugin id, or
// false when unsupported.
func (r *Registry) GetTypingNotifier(pluginID string) (TypingNotifier, bool) {
	adapter, ok := r.Get(pluginID)
	if !ok {
		return nil, false
	}
	if _, ok := qualify(adapter); !ok {
		return nil, false
	}
	notifier, ok := adapter.(TypingNotifier)
	return notifier, ok
}

// GetDescriptor returns the descriptor for the given plugin id.
func (r *Registry) GetDescriptor(pluginID string) (Descriptor, bool) {
	adapter, ok := r.Get(pluginID)
	if !ok {
		return Descriptor{}, false
	}
	return adapter.Descriptor(), true
}

type channelEntry struct {
	id      string
	adapter Adapter
	conn    Connector
}

func (r *Registry) channels() []channelEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]channelEntry, 0, len(r.adapters))
	for id, adapter := range r.adapters {
		conn, ok := qualify(adapter)
		if !ok {
			continue
		}
		items = append(items, channelEntry{id: id, adapter: adapter, conn: conn})
	}
	return items
}

func qualify(adapter Adapter) (Connector, bool) {
	if adapter.Descriptor().Category != CategoryChannel {
		return nil, false
	}
	conn, ok := adapter.(Connector)
	return conn, ok
}

func normalizeID(raw string) string {
	return strings.TrimSpace(strings.ToLower(raw))
}
