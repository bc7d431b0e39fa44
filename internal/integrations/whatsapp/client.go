package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"whatsapp-relay/internal/domain"
)

const (
	defaultBaseURL    = "https://graph.facebook.com"
	defaultAPIVersion = "v18.0"
	sendTimeout       = 10 * time.Second
	maxMediaBytes     = 16 << 20
)

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx Graph API responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("whatsapp: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type mediaResponse struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
}

type tokenPayload struct {
	Token string `json:"token"`
}

// Client sends text replies and downloads media through the WhatsApp Cloud
// API. The access token is cached after the first successful read.
type Client struct {
	baseURL       string
	apiVersion    string
	phoneNumberID string
	httpClient    *http.Client
	getter        Getter
	tokenName     string

	tokenMu sync.Mutex
	token   string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if b := strings.TrimRight(strings.TrimSpace(baseURL), "/"); b != "" {
			c.baseURL = b
		}
	}
}

func WithAPIVersion(version string) Option {
	return func(c *Client) {
		if v := strings.Trim(strings.TrimSpace(version), "/"); v != "" {
			c.apiVersion = v
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient builds a Cloud API client for one business phone number. The
// token is read from paramPrefix+"/whatsapp-token".
func NewClient(ps Getter, paramPrefix, phoneNumberID string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("whatsapp: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("whatsapp: parameter prefix must not be empty")
	}
	phoneNumberID = strings.TrimSpace(phoneNumberID)
	if phoneNumberID == "" {
		return nil, errors.New("whatsapp: phone number id must not be empty")
	}
	c := &Client{
		baseURL:       defaultBaseURL,
		apiVersion:    defaultAPIVersion,
		phoneNumberID: phoneNumberID,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		getter:        ps,
		tokenName:     paramPrefix + "/whatsapp-token",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	token, err := fetchToken(ctx, c.getter, c.tokenName)
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

func (c *Client) graphURL(parts ...string) string {
	escaped := make([]string, 0, len(parts)+2)
	escaped = append(escaped, c.baseURL, c.apiVersion)
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return strings.Join(escaped, "/")
}

// SendText posts a text message to the given recipient. Failures are
// reported in the result rather than as an error; a timeout has its own
// status.
func (c *Client) SendText(ctx context.Context, to, body string) domain.DeliveryResult {
	token, err := c.resolveToken(ctx)
	if err != nil {
		return domain.DeliveryResult{Status: domain.DeliveryFailed, Err: err}
	}

	payload, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             textBody{PreviewURL: false, Body: body},
	})
	if err != nil {
		return domain.DeliveryResult{Status: domain.DeliveryFailed, Err: fmt.Errorf("whatsapp: marshal message: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	target := c.graphURL(c.phoneNumberID, "messages")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return domain.DeliveryResult{Status: domain.DeliveryFailed, Err: fmt.Errorf("whatsapp: create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return domain.DeliveryResult{Status: domain.DeliveryTimeout, Err: fmt.Errorf("whatsapp: send: %w", err)}
		}
		return domain.DeliveryResult{Status: domain.DeliveryFailed, Err: fmt.Errorf("whatsapp: send: %w", err)}
	}
	defer func() { _ = res.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return domain.DeliveryResult{
			Status:     domain.DeliveryFailed,
			HTTPStatus: res.StatusCode,
			Err:        &HTTPStatusError{StatusCode: res.StatusCode, URL: target, Body: string(raw)},
		}
	}

	out := domain.DeliveryResult{Status: domain.DeliverySent, HTTPStatus: res.StatusCode}
	var sr sendResponse
	if json.Unmarshal(raw, &sr) == nil && len(sr.Messages) > 0 {
		out.MessageID = sr.Messages[0].ID
	}
	return out
}

// DownloadMedia resolves the media id to its download URL, then streams the
// binary into w. Both requests carry the access token.
func (c *Client) DownloadMedia(ctx context.Context, mediaID string, w io.Writer) error {
	mediaID = strings.TrimSpace(mediaID)
	if mediaID == "" {
		return errors.New("whatsapp: media id is required")
	}
	token, err := c.resolveToken(ctx)
	if err != nil {
		return err
	}

	metaURL := c.graphURL(mediaID)
	res, err := c.get(ctx, metaURL, token)
	if err != nil {
		return fmt.Errorf("whatsapp: media metadata: %w", err)
	}
	var meta mediaResponse
	decodeErr := json.NewDecoder(io.LimitReader(res.Body, 64<<10)).Decode(&meta)
	_ = res.Body.Close()
	if decodeErr != nil {
		return fmt.Errorf("whatsapp: decode media metadata: %w", decodeErr)
	}
	if meta.URL == "" {
		return errors.New("whatsapp: media metadata has no url")
	}

	res, err = c.get(ctx, meta.URL, token)
	if err != nil {
		return fmt.Errorf("whatsapp: media download: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	if _, err := io.Copy(w, io.LimitReader(res.Body, maxMediaBytes)); err != nil {
		return fmt.Errorf("whatsapp: write media: %w", err)
	}
	return nil
}

// get issues an authorized GET and returns the response only for 2xx.
func (c *Client) get(ctx context.Context, target, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		_ = res.Body.Close()
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, URL: target, Body: string(buf)}
	}
	return res, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// fetchToken accepts either {"token": "..."} (SSM) or a plain value.
func fetchToken(ctx context.Context, getter Getter, name string) (string, error) {
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("whatsapp: fetch token from paramstore: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var tp tokenPayload
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			return "", fmt.Errorf("whatsapp: unmarshal paramstore token value as JSON: %w", err)
		}
		raw = strings.TrimSpace(tp.Token)
	}
	if raw == "" {
		return "", errors.New("whatsapp: access token is empty")
	}
	return raw, nil
}
