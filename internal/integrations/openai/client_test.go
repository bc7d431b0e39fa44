package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"whatsapp-relay/internal/domain"
)

// ---------------------------------------------------------------------------
// URL helpers
// ---------------------------------------------------------------------------

func TestEndpoint(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/threads"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/threads"},
		{"http://localhost:8080", "http://localhost:8080/v1/threads"},
		{"", "https://api.openai.com/v1/threads"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, endpoint(tc.base, "threads"), "base=%q", tc.base)
	}
}

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, "/relay", "asst_1")
	require.ErrorContains(t, err, "nil")

	_, err = NewClient(&fakeGetter{}, " ", "asst_1")
	require.ErrorContains(t, err, "prefix")

	_, err = NewClient(&fakeGetter{}, "/relay", "")
	require.ErrorContains(t, err, "assistant id")
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(&fakeGetter{}, "/relay/", "asst_1")
	require.NoError(t, err)
	require.Equal(t, "https://api.openai.com/v1", c.baseURL)
	require.Equal(t, "/relay/open-ai-token", c.tokenParameterName())
	require.Equal(t, "whisper-1", c.transcriptionModel)
	require.Empty(t, c.transcriptionLanguage)
}

// ---------------------------------------------------------------------------
// resolveAPIKey / fetchAPIKey
// ---------------------------------------------------------------------------

// fakeGetter is a minimal Getter stub for use within this package.
type fakeGetter struct {
	val    string
	err    error
	onCall func() // optional; called on each GetParameter invocation
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

func TestResolveAPIKey_FetchedOnce(t *testing.T) {
	calls := 0
	g := &fakeGetter{val: `{"token":"sk-from-ssm"}`}
	g.onCall = func() { calls++ }
	c, err := NewClient(g, "/relay", "asst_1")
	require.NoError(t, err)

	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-from-ssm", key)

	_, _ = c.resolveAPIKey(context.Background())
	_, _ = c.resolveAPIKey(context.Background())
	require.Equal(t, 1, calls)
}

func TestResolveAPIKey_FailureIsRetried(t *testing.T) {
	calls := 0
	g := &fakeGetter{err: errors.New("ThrottlingException")}
	g.onCall = func() { calls++ }
	c, err := NewClient(g, "/relay", "asst_1")
	require.NoError(t, err)

	_, err = c.resolveAPIKey(context.Background())
	require.ErrorContains(t, err, "ThrottlingException")

	g.err = nil
	g.val = "sk-plain"
	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-plain", key)

	_, _ = c.resolveAPIKey(context.Background())
	require.Equal(t, 2, calls)
}

func TestFetchAPIKey(t *testing.T) {
	cases := []struct {
		name    string
		getter  Getter
		param   string
		want    string
		wantErr string
	}{
		{name: "json token", getter: &fakeGetter{val: `{"token":"sk-json"}`}, param: "/relay/open-ai-token", want: "sk-json"},
		{name: "plain value", getter: &fakeGetter{val: " sk-plain \n"}, param: "/relay/open-ai-token", want: "sk-plain"},
		{name: "json missing token", getter: &fakeGetter{val: `{"other":"value"}`}, param: "/relay/open-ai-token", wantErr: "API token is empty"},
		{name: "malformed json", getter: &fakeGetter{val: `{"broken`}, param: "/relay/open-ai-token", wantErr: "unmarshal"},
		{name: "empty value", getter: &fakeGetter{val: "  "}, param: "/relay/open-ai-token", wantErr: "API token is empty"},
		{name: "getter error", getter: &fakeGetter{err: errors.New("ssm unavailable")}, param: "/relay/open-ai-token", wantErr: "ssm unavailable"},
		{name: "nil getter", getter: nil, param: "/relay/open-ai-token", wantErr: "nil"},
		{name: "empty name", getter: &fakeGetter{val: "sk"}, param: " ", wantErr: "empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := fetchAPIKey(context.Background(), tc.getter, tc.param)
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

// ---------------------------------------------------------------------------
// Assistants endpoints
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	}, opts...)
	c, err := NewClient(&fakeGetter{val: `{"token":"sk-test"}`}, "/relay", "asst_test", opts...)
	require.NoError(t, err)
	return c
}

func TestCreateThread_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/threads", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.Equal(t, "assistants=v2", r.Header.Get("OpenAI-Beta"))
		_, _ = w.Write([]byte(`{"id":"thread_123","object":"thread"}`))
	}))
	defer srv.Close()

	id, err := newTestClient(t, srv).CreateThread(context.Background())
	require.NoError(t, err)
	require.Equal(t, "thread_123", id)
}

func TestCreateThread_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).CreateThread(context.Background())
	require.Error(t, err)
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.HTTPStatusCode())
	require.Contains(t, err.Error(), "unexpected status 429")
}

func TestCreateThread_EmptyID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).CreateThread(context.Background())
	require.ErrorContains(t, err, "empty thread id")
}

func TestAddUserMessage_SendsRoleAndContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/threads/thread_123/messages", r.URL.Path)
		var body messageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "user", body.Role)
		require.Equal(t, "Quelle est l'heure d'arrivée ?", body.Content)
		_, _ = w.Write([]byte(`{"id":"msg_1"}`))
	}))
	defer srv.Close()

	err := newTestClient(t, srv).AddUserMessage(context.Background(), "thread_123", "Quelle est l'heure d'arrivée ?")
	require.NoError(t, err)
}

func TestCreateRun_UsesAssistantID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/threads/thread_123/runs", r.URL.Path)
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.JSONEq(t, `{"assistant_id":"asst_test"}`, string(raw))
		_, _ = w.Write([]byte(`{"id":"run_1","thread_id":"thread_123","status":"queued"}`))
	}))
	defer srv.Close()

	run, err := newTestClient(t, srv).CreateRun(context.Background(), "thread_123")
	require.NoError(t, err)
	require.Equal(t, domain.Run{ID: "run_1", ThreadID: "thread_123", Status: domain.RunStatusQueued}, run)
	require.True(t, run.Pending())
}

func TestGetRun_FailedCarriesLastError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v1/threads/thread_123/runs/run_1", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"run_1","status":"failed","last_error":{"code":"rate_limit_exceeded","message":"quota"}}`))
	}))
	defer srv.Close()

	run, err := newTestClient(t, srv).GetRun(context.Background(), "thread_123", "run_1")
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusFailed, run.Status)
	require.Equal(t, "thread_123", run.ThreadID)
	require.Equal(t, "rate_limit_exceeded: quota", run.LastError)
	require.False(t, run.Pending())
}

func TestLatestMessage_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/threads/thread_123/messages", r.URL.Path)
		require.Equal(t, "1", r.URL.Query().Get("limit"))
		require.Equal(t, "desc", r.URL.Query().Get("order"))
		_, _ = w.Write([]byte(`{"data":[{"id":"msg_2","role":"assistant","content":[
			{"type":"image_file","image_file":{"file_id":"f"}},
			{"type":"text","text":{"value":"L'arrivée est à 15h.","annotations":[]}}
		]}]}`))
	}))
	defer srv.Close()

	text, err := newTestClient(t, srv).LatestMessage(context.Background(), "thread_123")
	require.NoError(t, err)
	require.Equal(t, "L'arrivée est à 15h.", text)
}

func TestLatestMessage_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).LatestMessage(context.Background(), "thread_123")
	require.ErrorContains(t, err, "no messages")
}

func TestLatestMessage_NoText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"content":[{"type":"image_file"}]}]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).LatestMessage(context.Background(), "thread_123")
	require.ErrorContains(t, err, "no text content")
}

func TestDo_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not-a-json`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).CreateRun(context.Background(), "thread_123")
	require.ErrorContains(t, err, "decode response")
}

func TestDo_KeyErrorStopsBeforeRequest(t *testing.T) {
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
	}))
	defer srv.Close()

	c, err := NewClient(&fakeGetter{err: errors.New("denied")}, "/relay", "asst_test", WithBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = c.CreateThread(context.Background())
	require.ErrorContains(t, err, "denied")
	require.False(t, hit)
}

// ---------------------------------------------------------------------------
// Transcribe
// ---------------------------------------------------------------------------

func writeTempAudio(t *testing.T) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voice.ogg")
	require.NoError(t, os.WriteFile(path, []byte("OggS-fake-audio"), 0o600))
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestTranscribe_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "whisper-1", r.FormValue("model"))
		require.Equal(t, "fr", r.FormValue("language"))
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		require.Equal(t, "voice.ogg", header.Filename)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":" Bonjour, je voudrais réserver. "}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithTranscription("", "fr"))
	text, err := c.Transcribe(context.Background(), writeTempAudio(t))
	require.NoError(t, err)
	require.Equal(t, "Bonjour, je voudrais réserver.", text)
}

func TestTranscribe_ProviderError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Transcribe(context.Background(), writeTempAudio(t))
	require.ErrorContains(t, err, "transcribe")
	require.Equal(t, 1, calls, "transcription must not be retried")
}

func TestTranscribe_EmptyTranscript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"   "}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Transcribe(context.Background(), writeTempAudio(t))
	require.ErrorContains(t, err, "empty transcript")
}

func TestTranscribe_NilAudio(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: "sk"}, "/relay", "asst_test")
	require.NoError(t, err)
	_, err = c.Transcribe(context.Background(), nil)
	require.ErrorContains(t, err, "must not be nil")
}
