package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"whatsapp-relay/internal/domain"
	"whatsapp-relay/internal/usecase"
)

type stubRouter struct {
	out    usecase.Outcome
	raw    []byte
	corrID string
	calls  int
}

func (s *stubRouter) Handle(ctx context.Context, raw []byte) usecase.Outcome {
	s.calls++
	s.raw = raw
	s.corrID = usecase.CorrelationID(ctx)
	return s.out
}

type stubStats struct {
	stats domain.UserStats
	err   error
}

func (s *stubStats) Stats(context.Context) (domain.UserStats, error) {
	return s.stats, s.err
}

func makeEvent(method, path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func newTestHandler(t *testing.T, r *stubRouter, s *stubStats) *Handler {
	t.Helper()
	h, err := NewHandler(r, s, "verify-me", nil)
	require.NoError(t, err)
	return h
}

func TestNewHandler_ValidatesDependencies(t *testing.T) {
	_, err := NewHandler(nil, &stubStats{}, "", nil)
	require.Error(t, err)
	_, err = NewHandler(&stubRouter{}, nil, "", nil)
	require.Error(t, err)
}

func TestHandle_WebhookAlwaysAcknowledged(t *testing.T) {
	for _, status := range []usecase.OutcomeStatus{
		usecase.OutcomeReplied,
		usecase.OutcomeDegraded,
		usecase.OutcomeErrorReplied,
		usecase.OutcomeDropped,
	} {
		t.Run(string(status), func(t *testing.T) {
			r := &stubRouter{out: usecase.Outcome{Status: status}}
			h := newTestHandler(t, r, &stubStats{})

			resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/webhook", `{"object":"whatsapp_business_account"}`))
			require.NoError(t, err)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.Equal(t, "ok", parseBody[statusResponse](t, resp.Body).Status)
			require.JSONEq(t, `{"object":"whatsapp_business_account"}`, string(r.raw))
			require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
			require.Equal(t, resp.Headers["X-Correlation-Id"], r.corrID)
		})
	}
}

func TestHandle_WebhookInvalidJSON(t *testing.T) {
	r := &stubRouter{}
	h := newTestHandler(t, r, &stubStats{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/webhook", `not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, string(usecase.ErrorInvalidPayload), parseBody[errorResponse](t, resp.Body).Error)
	require.Zero(t, r.calls)
}

func TestHandle_WebhookBase64Body(t *testing.T) {
	r := &stubRouter{out: usecase.Outcome{Status: usecase.OutcomeReplied}}
	h := newTestHandler(t, r, &stubStats{})

	event := makeEvent(http.MethodPost, "/webhook", base64.StdEncoding.EncodeToString([]byte(`{"object":"x"}`)))
	event.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, `{"object":"x"}`, string(r.raw))
}

func TestHandle_Verify(t *testing.T) {
	h := newTestHandler(t, &stubRouter{}, &stubStats{})

	event := makeEvent(http.MethodGet, "/webhook", "")
	event.QueryStringParameters = map[string]string{
		"hub.mode":         "subscribe",
		"hub.verify_token": "verify-me",
		"hub.challenge":    "1158201444",
	}
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "1158201444", resp.Body)

	event.QueryStringParameters["hub.verify_token"] = "wrong"
	resp, err = h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandle_Users(t *testing.T) {
	last := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	s := &stubStats{stats: domain.UserStats{
		TotalUsers: 1,
		Users:      []domain.UserSummary{{Name: "Alice", WaID: "33600000001", MessageCount: 3, LastActivity: last}},
	}}
	h := newTestHandler(t, &stubRouter{}, s)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/users", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{
		"total_users": 1,
		"users": [{"name":"Alice","wa_id":"33600000001","message_count":3,"last_activity":"2026-03-01T09:30:00Z"}]
	}`, resp.Body)
}

func TestHandle_UsersError(t *testing.T) {
	h := newTestHandler(t, &stubRouter{}, &stubStats{err: errors.New("table not found")})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/users", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "table not found", parseBody[errorResponse](t, resp.Body).Error)
}

func TestHandle_UnknownRoute(t *testing.T) {
	h := newTestHandler(t, &stubRouter{}, &stubStats{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodDelete, "/webhook", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	r := &stubRouter{}
	h := newTestHandler(t, r, &stubStats{})

	event := makeEvent(http.MethodPost, "/webhook/", `{}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
	require.Equal(t, "corr-123", r.corrID)
}
