package channel_test

import (
	"context"
	"errors"
	"testing"

	"github.com/chanbridge/chanbridge/internal/channel"
)

// mockConnector implements the full channel capability surface.
type mockConnector struct {
	id       string
	platform string
	enabled  bool
	category string
	status   channel.Status
	typing   bool
}

func (m *mockConnector) ID() string { return m.id }

func (m *mockConnector) Descriptor() channel.Descriptor {
	category := m.category
	if category == "" {
		category = channel.CategoryChannel
	}
	return channel.Descriptor{
		ID:          m.id,
		Platform:    m.platform,
		DisplayName: m.id,
		Category:    category,
		Enabled:     m.enabled,
	}
}

func (m *mockConnector) Connect(ctx context.Context) error    { return nil }
func (m *mockConnector) Disconnect(ctx context.Context) error { return nil }

func (m *mockConnector) SendMessage(ctx context.Context, msg channel.OutgoingMessage) (string, error) {
	return "msg-1", nil
}

func (m *mockConnector) Status() channel.Status {
	if m.status == "" {
		return channel.StatusDisconnected
	}
	return m.status
}

func (m *mockConnector) Platform() string { return m.platform }

// sendOnlyAdapter declares the channel category but lacks the connect surface,
// so it must never qualify.
type sendOnlyAdapter struct{}

func (a *sendOnlyAdapter) ID() string { return "send-only" }

func (a *sendOnlyAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{ID: "send-only", Category: channel.CategoryChannel, Enabled: true}
}

func (a *sendOnlyAdapter) SendMessage(ctx context.Context, msg channel.OutgoingMessage) (string, error) {
	return "", nil
}

func TestGetChannel_Unknown(t *testing.T) {
	t.Parallel()
	reg := channel.NewRegistry()
	_, err := reg.GetChannel("missing")
	if !errors.Is(err, channel.ErrChannelNotFound) {
		t.Fatalf("GetChannel(missing) error = %v, want ErrChannelNotFound", err)
	}
}

func TestGetChannel_Disqualified(t *testing.T) {
	t.Parallel()
	reg := channel.NewRegistry()
	reg.MustRegister(&sendOnlyAdapter{})
	_, err := reg.GetChannel("send-only")
	if !errors.Is(err, channel.ErrChannelNotFound) {
		t.Fatalf("GetChannel(send-only) error = %v, want ErrChannelNotFound", err)
	}
}

func TestGetChannel_WrongCategory(t *testing.T) {
	t.Parallel()
	reg := channel.NewRegistry()
	reg.MustRegister(&mockConnector{id: "storage-1", platform: "telegram", enabled: true, category: "storage"})
	_, err := reg.GetChannel("storage-1")
	if !errors.Is(err, channel.ErrChannelNotFound) {
		t.Fatalf("GetChannel(storage-1) error = %v, want ErrChannelNotFound", err)
	}
}

func TestGetChannel_Qualifying(t *testing.T) {
	t.Parallel()
	reg := channel.NewRegistry()
	reg.MustRegister(&mockConnector{id: "tg-1", platform: "telegram", enabled: true})
	conn, err := reg.GetChannel("tg-1")
	if err != nil {
		t.Fatalf("GetChannel(tg-1) error = %v", err)
	}
	if conn.Platform() != "telegram" {
		t.Fatalf("Platform() = %q, want telegram", conn.Platform())
	}
}

func TestListChannels_EnabledOnly(t *testing.T) {
	t.Parallel()
	reg := channel.NewRegistry()
	reg.MustRegister(&mockConnector{id: "tg-1", platform: "telegram", enabled: true, status: channel.StatusConnected})
	reg.MustRegister(&mockConnector{id: "dc-1", platform: "discord", enabled: false})

	items := reg.ListChannels()
	if len(items) != 1 {
		t.Fatalf("ListChannels() returned %d items, want 1", len(items))
	}
	if items[0].ID != "tg-1" || items[0].Status != channel.StatusConnected {
		t.Fatalf("unexpected summary: %+v", items[0])
	}
}

func TestGetByPlatform(t *testing.T) {
	t.Parallel()
	reg := channel.NewRegistry()
	reg.MustRegister(&mockConnector{id: "tg-1", platform: "telegram", enabled: true})
	reg.MustRegister(&mockConnector{id: "tg-2", platform: "Telegram", enabled: true})
	reg.MustRegister(&mockConnector{id: "dc-1", platform: "discord", enabled: true})

	entries := reg.GetByPlatform("telegram")
	if len(entries) != 2 {
		t.Fatalf("GetByPlatform(telegram) returned %d entries, want 2", len(entries))
	}
}

func TestRegister_Duplicate(t *testing.T) {
	t.Parallel()
	reg := channel.NewRegistry()
	reg.MustRegister(&mockConnector{id: "tg-1", platform: "telegram", enabled: true})
	if err := reg.Register(&mockConnector{id: "TG-1", platform: "telegram", enabled: true}); err == nil {
		t.Fatalf("Register should reject duplicate id")
	}
}

func TestGetTypingNotifier_Unsupported(t *testing.T) {
	t.Parallel()
	reg := channel.NewRegistry()
	reg.MustRegister(&mockConnector{id: "tg-1", platform: "telegram", enabled: true})
	notifier, ok := reg.GetTypingNotifier("tg-1")
	if ok || notifier != nil {
		t.Fatalf("GetTypingNotifier(tg-1) = (%v, %v), want (nil, false)", notifier, ok)
	}
}
