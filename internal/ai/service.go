package ai

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chanbridge/chanbridge/internal/config"
)

// Strategy is one way of reaching the AI backend. The service picks a single
// strategy per message instead of checking capabilities inline.
type Strategy interface {
	Dispatch(ctx context.Context, req Request) (string, error)
	CreateConversation(ctx context.Context) (string, error)
}

// ErrNoProvider means neither the bus nor a direct agent is configured.
var ErrNoProvider = errors.New("no AI provider configured")

// Service selects between the message-bus pipeline and the direct agent
// fallback, with the demo-mode short circuit in front of both.
type Service struct {
	demoMode bool
	bus      *BusClient
	agent    *AgentClient
	logger   *slog.Logger
}

// NewService builds the dispatch service from config. Bus and agent clients
// are only created when their endpoints are configured.
func NewService(log *slog.Logger, cfg config.AIConfig) *Service {
	if log == nil {
		log = slog.Default()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	svc := &Service{
		demoMode: cfg.DemoMode,
		logger:   log.With(slog.String("component", "ai")),
	}
	if strings.TrimSpace(cfg.BusURL) != "" {
		svc.bus = NewBusClient(log, cfg.BusURL, cfg.APIKey, cfg.Model, timeout)
	}
	if strings.TrimSpace(cfg.AgentURL) != "" {
		svc.agent = NewAgentClient(log, cfg.AgentURL, cfg.APIKey, cfg.Model, timeout)
	}
	return svc
}

// DemoMode reports whether the canned short circuit is active.
func (s *Service) DemoMode() bool {
	return s.demoMode
}

// CreateConversation obtains a fresh conversation id from the selected
// strategy. In demo mode ids are minted locally.
func (s *Service) CreateConversation(ctx context.Context) (string, error) {
	if s.demoMode {
		return uuid.NewString(), nil
	}
	strategy, err := s.strategy()
	if err != nil {
		return "", err
	}
	return strategy.CreateConversation(ctx)
}

// Dispatch routes one message. Demo mode is checked before any bus or agent
// call.
func (s *Service) Dispatch(ctx context.Context, req Request) (string, error) {
	if s.demoMode {
		return DemoReply(req.Content), nil
	}
	strategy, err := s.strategy()
	if err != nil {
		return "", err
	}
	return strategy.Dispatch(ctx, req)
}

func (s *Service) strategy() (Strategy, error) {
	if s.bus != nil {
		return s.bus, nil
	}
	if s.agent != nil {
		return s.agent, nil
	}
	return nil, ErrNoProvider
}
