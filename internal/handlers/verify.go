package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/chanbridge/chanbridge/internal/auth"
	"github.com/chanbridge/chanbridge/internal/verify"
)

type VerifyHandler struct {
	service *verify.Service
	logger  *slog.Logger
}

func NewVerifyHandler(log *slog.Logger, service *verify.Service) *VerifyHandler {
	if log == nil {
		log = slog.Default()
	}
	return &VerifyHandler{
		service: service,
		logger:  log.With(slog.String("component", "verify_handler")),
	}
}

func (h *VerifyHandler) Register(e *echo.Echo) {
	e.POST("/verify/tokens", h.GenerateToken)
}

type generateTokenRequest struct {
	BackendUserID string `json:"backend_user_id"`
	Platform      string `json:"platform,omitempty"`
	TTLMinutes    int    `json:"ttl_minutes,omitempty"`
	Type          string `json:"type,omitempty"`
}

type generateTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *VerifyHandler) GenerateToken(c echo.Context) error {
	var req generateTokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.BackendUserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "backend_user_id is required")
	}
	operator, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	token, err := h.service.GenerateToken(c.Request().Context(), req.BackendUserID, verify.TokenOptions{
		Platform: req.Platform,
		TTL:      time.Duration(req.TTLMinutes) * time.Minute,
		Type:     req.Type,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.logger.Info("verification token issued",
		slog.String("operator", operator),
		slog.String("backend_user_id", req.BackendUserID),
		slog.String("platform", req.Platform),
	)
	return c.JSON(http.StatusCreated, generateTokenResponse{
		Token:     token.Token,
		ExpiresAt: token.ExpiresAt,
	})
}
