package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/chanbridge/chanbridge/internal/ai"
	"github.com/chanbridge/chanbridge/internal/channel"
	"github.com/chanbridge/chanbridge/internal/channel/adapters/discord"
	"github.com/chanbridge/chanbridge/internal/channel/adapters/telegram"
	"github.com/chanbridge/chanbridge/internal/config"
	"github.com/chanbridge/chanbridge/internal/db"
	"github.com/chanbridge/chanbridge/internal/event"
	"github.com/chanbridge/chanbridge/internal/gateway"
	"github.com/chanbridge/chanbridge/internal/handlers"
	"github.com/chanbridge/chanbridge/internal/logger"
	"github.com/chanbridge/chanbridge/internal/server"
	"github.com/chanbridge/chanbridge/internal/session"
	"github.com/chanbridge/chanbridge/internal/store"
	"github.com/chanbridge/chanbridge/internal/verify"
	"github.com/chanbridge/chanbridge/internal/ws"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			store.NewUsers,
			store.NewSessions,
			store.NewMessages,
			store.NewConversations,
			event.NewHub,
			ws.NewHub,
			provideRegistry,
			provideVerifyService,
			provideCleaner,
			session.NewLocker,
			provideReconciler,
			provideAIService,
			provideGateway,
			handlers.NewPingHandler,
			handlers.NewChannelsHandler,
			provideVerifyHandler,
			handlers.NewWSHandler,
			provideServer,
		),
		fx.Invoke(
			startGateway,
			startCleaner,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	return logger.Init(cfg.Log.Level, cfg.Log.Format)
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	pool, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { pool.Close(); return nil }})
	return pool, nil
}

func provideRegistry(log *slog.Logger, cfg config.Config, events *event.Hub) *channel.Registry {
	registry := channel.NewRegistry()
	registry.MustRegister(telegram.New(log, events, cfg.Channels.Telegram.Token))
	registry.MustRegister(discord.New(log, events, cfg.Channels.Discord.Token))
	return registry
}

func provideVerifyService(log *slog.Logger, cfg config.Config, pool *pgxpool.Pool, users *store.Users, events *event.Hub) *verify.Service {
	return verify.NewService(log, pool, users, events, time.Duration(cfg.Verify.TokenTTLMinutes)*time.Minute)
}

func provideCleaner(log *slog.Logger, service *verify.Service, cfg config.Config) *verify.Cleaner {
	return verify.NewCleaner(log, service, cfg.Verify.CleanupSchedule)
}

func provideReconciler(log *slog.Logger, locker *session.Locker, sessions *store.Sessions, conversations *store.Conversations) *session.Reconciler {
	return session.NewReconciler(log, locker, sessions, conversations)
}

func provideAIService(log *slog.Logger, cfg config.Config) *ai.Service {
	return ai.NewService(log, cfg.AI)
}

func provideGateway(log *slog.Logger, cfg config.Config, registry *channel.Registry, verifier *verify.Service, users *store.Users, messages *store.Messages, reconciler *session.Reconciler, dispatcher *ai.Service, events *event.Hub, hub *ws.Hub) *gateway.Gateway {
	return gateway.New(gateway.Options{
		Registry:    registry,
		Verifier:    verifier,
		Users:       users,
		Messages:    messages,
		Sessions:    reconciler,
		Dispatcher:  dispatcher,
		Events:      events,
		Broadcaster: hub,
		Channels:    cfg.Channels,
		Logger:      log,
	})
}

func provideVerifyHandler(log *slog.Logger, service *verify.Service) *handlers.VerifyHandler {
	return handlers.NewVerifyHandler(log, service)
}

func provideServer(cfg config.Config, pingHandler *handlers.PingHandler, channelsHandler *handlers.ChannelsHandler, verifyHandler *handlers.VerifyHandler, wsHandler *handlers.WSHandler) *server.Server {
	return server.NewServer(cfg.Server.Addr, cfg.Auth.JWTSecret, pingHandler, channelsHandler, verifyHandler, wsHandler)
}

func startGateway(lc fx.Lifecycle, gw *gateway.Gateway, logger *slog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			gw.Start(ctx)
			go gw.AutoConnectChannels(ctx)
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			gw.Dispose()
			return nil
		},
	})
}

func startCleaner(lc fx.Lifecycle, cleaner *verify.Cleaner) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { return cleaner.Start() },
		OnStop:  func(_ context.Context) error { cleaner.Stop(); return nil },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, hub *ws.Hub) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			hub.Close()
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
