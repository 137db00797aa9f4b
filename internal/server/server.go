// Package server assembles the admin HTTP server.
package server

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/chanbridge/chanbridge/internal/auth"
	"github.com/chanbridge/chanbridge/internal/handlers"
)

type Server struct {
	echo *echo.Echo
	addr string
}

func NewServer(addr, jwtSecret string, pingHandler *handlers.PingHandler, channelsHandler *handlers.ChannelsHandler, verifyHandler *handlers.VerifyHandler, wsHandler *handlers.WSHandler) *Server {
	if addr == "" {
		addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
			)
			return nil
		},
	}))
	e.Use(auth.JWTMiddleware(jwtSecret, func(c echo.Context) bool {
		path := c.Request().URL.Path
		return path == "/ping" || path == "/health"
	}))

	if pingHandler != nil {
		pingHandler.Register(e)
	}
	if channelsHandler != nil {
		channelsHandler.Register(e)
	}
	if verifyHandler != nil {
		verifyHandler.Register(e)
	}
	if wsHandler != nil {
		wsHandler.Register(e)
	}

	return &Server{
		echo: e,
		addr: addr,
	}
}

func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
