package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chanbridge/chanbridge/internal/channel"
	"github.com/chanbridge/chanbridge/internal/gateway"
)

type ChannelsHandler struct {
	gateway *gateway.Gateway
}

func NewChannelsHandler(gw *gateway.Gateway) *ChannelsHandler {
	return &ChannelsHandler{gateway: gw}
}

func (h *ChannelsHandler) Register(e *echo.Echo) {
	group := e.Group("/channels")
	group.GET("", h.ListChannels)
	group.POST("/:id/connect", h.Connect)
	group.POST("/:id/disconnect", h.Disconnect)
}

func (h *ChannelsHandler) ListChannels(c echo.Context) error {
	return c.JSON(http.StatusOK, h.gateway.ListChannels())
}

func (h *ChannelsHandler) Connect(c echo.Context) error {
	id := c.Param("id")
	if err := h.gateway.Connect(c.Request().Context(), id); err != nil {
		if errors.Is(err, channel.ErrChannelNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"channel_id": id, "status": string(channel.StatusConnected)})
}

func (h *ChannelsHandler) Disconnect(c echo.Context) error {
	id := c.Param("id")
	if err := h.gateway.Disconnect(c.Request().Context(), id); err != nil {
		if errors.Is(err, channel.ErrChannelNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"channel_id": id, "status": string(channel.StatusDisconnected)})
}
