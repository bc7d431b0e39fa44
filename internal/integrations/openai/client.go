package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"whatsapp-relay/internal/domain"
)

const (
	defaultBaseURL            = "https://api.openai.com/v1"
	defaultTranscriptionModel = "whisper-1"
)

// threadResponse is the minimal shape of a thread object.
type threadResponse struct {
	ID string `json:"id"`
}

type messageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type runRequest struct {
	AssistantID string `json:"assistant_id"`
}

// runResponse is the minimal shape of a run object.
type runResponse struct {
	ID        string `json:"id"`
	ThreadID  string `json:"thread_id"`
	Status    string `json:"status"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

// messageListResponse is the minimal shape of a thread message page.
type messageListResponse struct {
	Data []struct {
		ID      string `json:"id"`
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text *struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

// tokenPayload is the JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client talks to the Assistants API (threads, messages, runs) and the audio
// transcription endpoint.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string
	assistantID string

	transcriptionModel    string
	transcriptionLanguage string
	sdk                   openaigo.Client

	keyMu  sync.Mutex
	apiKey string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTranscription sets the speech-to-text model and source language hint.
// An empty language lets the provider detect it.
func WithTranscription(model, language string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(model); m != "" {
			c.transcriptionModel = m
		}
		c.transcriptionLanguage = strings.TrimSpace(language)
	}
}

// NewClient creates a new Client backed by the given Getter for API key
// retrieval. The key is fetched on first use and reused once a read succeeds.
func NewClient(ps Getter, paramPrefix, assistantID string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("openai: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("openai: parameter prefix must not be empty")
	}
	assistantID = strings.TrimSpace(assistantID)
	if assistantID == "" {
		return nil, errors.New("openai: assistant id must not be empty")
	}
	c := &Client{
		baseURL:            defaultBaseURL,
		httpClient:         &http.Client{Timeout: 30 * time.Second},
		getter:             ps,
		paramPrefix:        paramPrefix,
		assistantID:        assistantID,
		transcriptionModel: defaultTranscriptionModel,
	}
	for _, opt := range opts {
		opt(c)
	}
	// Single attempt: the relay never retries upstream calls.
	c.sdk = openaigo.NewClient(
		option.WithBaseURL(apiBase(c.baseURL)+"/"),
		option.WithHTTPClient(c.resolvedHTTPClient()),
		option.WithMaxRetries(0),
	)
	return c, nil
}

// resolveAPIKey returns the cached key, fetching it when no read has
// succeeded yet. Failures are retried on the next call.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	key, err := fetchAPIKey(ctx, c.getter, c.tokenParameterName())
	if err != nil {
		return "", err
	}
	c.apiKey = key
	return key, nil
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/open-ai-token"
}

// resolvedHTTPClient returns the configured HTTP client, or a default with a
// 30s timeout if none was set.
func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// apiBase normalizes a base URL so that it ends in /v1.
func apiBase(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		return defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

func endpoint(baseURL, path string) string {
	return apiBase(baseURL) + "/" + strings.TrimLeft(path, "/")
}

// CreateThread opens a new, empty conversation thread.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	var out threadResponse
	if err := c.do(ctx, http.MethodPost, "threads", struct{}{}, &out); err != nil {
		return "", fmt.Errorf("openai: create thread: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("openai: create thread: empty thread id")
	}
	return out.ID, nil
}

// AddUserMessage appends a user message to the thread.
func (c *Client) AddUserMessage(ctx context.Context, threadID, body string) error {
	path := "threads/" + url.PathEscape(threadID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, messageRequest{Role: "user", Content: body}, nil); err != nil {
		return fmt.Errorf("openai: add message: %w", err)
	}
	return nil
}

// CreateRun starts the configured assistant on the thread.
func (c *Client) CreateRun(ctx context.Context, threadID string) (domain.Run, error) {
	var out runResponse
	path := "threads/" + url.PathEscape(threadID) + "/runs"
	if err := c.do(ctx, http.MethodPost, path, runRequest{AssistantID: c.assistantID}, &out); err != nil {
		return domain.Run{}, fmt.Errorf("openai: create run: %w", err)
	}
	return toRun(out, threadID), nil
}

// GetRun fetches the current state of a run.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (domain.Run, error) {
	var out runResponse
	path := "threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return domain.Run{}, fmt.Errorf("openai: get run: %w", err)
	}
	return toRun(out, threadID), nil
}

// LatestMessage returns the text of the newest message on the thread.
func (c *Client) LatestMessage(ctx context.Context, threadID string) (string, error) {
	var out messageListResponse
	path := "threads/" + url.PathEscape(threadID) + "/messages?limit=1&order=desc"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", fmt.Errorf("openai: list messages: %w", err)
	}
	if len(out.Data) == 0 {
		return "", errors.New("openai: no messages in thread")
	}
	for _, part := range out.Data[0].Content {
		if part.Type == "text" && part.Text != nil {
			return part.Text.Value, nil
		}
	}
	return "", errors.New("openai: latest message has no text content")
}

func toRun(r runResponse, threadID string) domain.Run {
	if r.ThreadID != "" {
		threadID = r.ThreadID
	}
	run := domain.Run{ID: r.ID, ThreadID: threadID, Status: r.Status}
	if r.LastError != nil {
		run.LastError = strings.TrimSpace(r.LastError.Code + ": " + r.LastError.Message)
	}
	return run
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	target := endpoint(c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	raw, err := c.doJSONRequest(req, target)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) doJSONRequest(req *http.Request, target string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        target,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

// fetchAPIKey reads the key parameter. SSM values are stored as
// {"token": "..."}; plain values (from the environment) are used as-is.
func fetchAPIKey(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("openai: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("openai: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("openai: fetch token from paramstore: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		if raw == "" {
			return "", errors.New("openai: API token is empty")
		}
		return raw, nil
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("openai: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("openai: API token is empty")
	}
	return tp.Token, nil
}
