package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"whatsapp-relay/internal/domain"
	"whatsapp-relay/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type WebhookRouter interface {
	Handle(ctx context.Context, raw []byte) usecase.Outcome
}

type StatsProvider interface {
	Stats(ctx context.Context) (domain.UserStats, error)
}

type Handler struct {
	router      WebhookRouter
	stats       StatsProvider
	verifyToken string
	logger      *slog.Logger
}

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHandler(router WebhookRouter, stats StatsProvider, verifyToken string, logger *slog.Logger) (*Handler, error) {
	if router == nil {
		return nil, errors.New("handler: router must not be nil")
	}
	if stats == nil {
		return nil, errors.New("handler: stats provider must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{router: router, stats: stats, verifyToken: verifyToken, logger: logger}, nil
}

// Handle serves API Gateway proxy events for the webhook and monitoring
// routes.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = usecase.NewCorrelationID()
	}
	ctx = usecase.WithCorrelationID(ctx, correlationID)

	path := "/" + strings.Trim(req.Path, "/")
	switch {
	case path == "/webhook" && req.HTTPMethod == http.MethodGet:
		return h.verify(req, correlationID), nil
	case path == "/webhook" && req.HTTPMethod == http.MethodPost:
		return h.webhook(ctx, req, correlationID), nil
	case path == "/users" && req.HTTPMethod == http.MethodGet:
		return h.users(ctx, correlationID), nil
	}
	return jsonResponse(http.StatusNotFound, errorResponse{Error: "not found"}, correlationID), nil
}

func (h *Handler) verify(req events.APIGatewayProxyRequest, correlationID string) events.APIGatewayProxyResponse {
	q := req.QueryStringParameters
	challenge, ok := usecase.VerifySubscription(q["hub.mode"], q["hub.verify_token"], q["hub.challenge"], h.verifyToken)
	if !ok {
		h.logger.Warn("webhook verification failed", "correlation_id", correlationID)
		return jsonResponse(http.StatusForbidden, errorResponse{Error: "verification failed"}, correlationID)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"Content-Type":    "text/plain",
			correlationHeader: correlationID,
		},
		Body: challenge,
	}
}

func (h *Handler) webhook(ctx context.Context, req events.APIGatewayProxyRequest, correlationID string) events.APIGatewayProxyResponse {
	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidPayload)}, correlationID)
		}
		body = decoded
	}
	if !json.Valid(body) {
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidPayload)}, correlationID)
	}

	out := h.router.Handle(ctx, body)
	h.logger.InfoContext(ctx, "webhook processed",
		"correlation_id", correlationID,
		"outcome", out.Status,
		"delivery", out.Delivery.Status,
	)
	return jsonResponse(http.StatusOK, statusResponse{Status: "ok"}, correlationID)
}

func (h *Handler) users(ctx context.Context, correlationID string) events.APIGatewayProxyResponse {
	stats, err := h.stats.Stats(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "user stats failed", "correlation_id", correlationID, "err", err)
		return jsonResponse(http.StatusInternalServerError, errorResponse{Error: err.Error()}, correlationID)
	}
	return jsonResponse(http.StatusOK, stats, correlationID)
}

func jsonResponse(status int, v any, correlationID string) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"` + string(usecase.ErrorInternal) + `"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(body),
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
