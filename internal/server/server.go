package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"whatsapp-relay/internal/domain"
	"whatsapp-relay/internal/usecase"
)

const maxWebhookBytes = 1 << 20

type WebhookRouter interface {
	Handle(ctx context.Context, raw []byte) usecase.Outcome
}

type StatsProvider interface {
	Stats(ctx context.Context) (domain.UserStats, error)
}

// Handler serves the webhook and monitoring routes for the standalone
// server.
type Handler struct {
	router      WebhookRouter
	stats       StatsProvider
	verifyToken string
	logger      *slog.Logger
}

func NewHandler(router WebhookRouter, stats StatsProvider, verifyToken string, logger *slog.Logger) (*Handler, error) {
	if router == nil {
		return nil, errors.New("server: router must not be nil")
	}
	if stats == nil {
		return nil, errors.New("server: stats provider must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{router: router, stats: stats, verifyToken: verifyToken, logger: logger}, nil
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/webhook", h.Verify)
	e.POST("/webhook", h.Webhook)
	e.GET("/users", h.Users)
	e.GET("/health", h.Health)
}

// Verify answers the subscription handshake.
func (h *Handler) Verify(c echo.Context) error {
	challenge, ok := usecase.VerifySubscription(
		c.QueryParam("hub.mode"),
		c.QueryParam("hub.verify_token"),
		c.QueryParam("hub.challenge"),
		h.verifyToken,
	)
	if !ok {
		h.logger.Warn("webhook verification failed", "correlation_id", correlationID(c))
		return c.JSON(http.StatusForbidden, map[string]string{"error": "verification failed"})
	}
	return c.String(http.StatusOK, challenge)
}

// Webhook processes one notification and always acknowledges it once the
// body is valid JSON.
func (h *Handler) Webhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBytes))
	if err != nil || !json.Valid(body) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": string(usecase.ErrorInvalidPayload)})
	}

	// A disconnecting caller must not abort the reply; the poll policy bounds the run.
	ctx := usecase.WithCorrelationID(context.WithoutCancel(c.Request().Context()), correlationID(c))
	out := h.router.Handle(ctx, body)
	h.logger.InfoContext(ctx, "webhook processed",
		"correlation_id", correlationID(c),
		"outcome", out.Status,
		"delivery", out.Delivery.Status,
	)
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Users returns the monitoring listing.
func (h *Handler) Users(c echo.Context) error {
	stats, err := h.stats.Stats(c.Request().Context())
	if err != nil {
		h.logger.Error("user stats failed", "correlation_id", correlationID(c), "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, stats)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// CorrelationID echoes X-Correlation-Id or generates one.
func CorrelationID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(echo.HeaderXCorrelationID)
			if id == "" {
				id = usecase.NewCorrelationID()
			}
			c.Set(correlationKey, id)
			c.Response().Header().Set(echo.HeaderXCorrelationID, id)
			return next(c)
		}
	}
}

const correlationKey = "correlation_id"

func correlationID(c echo.Context) string {
	if id, ok := c.Get(correlationKey).(string); ok && id != "" {
		return id
	}
	return c.Request().Header.Get(echo.HeaderXCorrelationID)
}

// NewEcho builds the echo instance with the standard middleware and routes.
func NewEcho(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(CorrelationID())

	h.RegisterRoutes(e)
	return e
}
