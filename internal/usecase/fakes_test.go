package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"whatsapp-relay/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAssistant struct {
	mu sync.Mutex

	threadIDs []string
	createErr error
	addErr    error
	runErr    error
	getRunErr error
	latest    string
	latestErr error
	// statuses returned by successive GetRun calls; the last one repeats.
	statuses []string
	initial  string

	createCalls int
	getRunCalls int
	messages    []string
}

func (f *fakeAssistant) CreateThread(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	id := "thread_default"
	if f.createCalls < len(f.threadIDs) {
		id = f.threadIDs[f.createCalls]
	}
	f.createCalls++
	return id, nil
}

func (f *fakeAssistant) AddUserMessage(_ context.Context, _, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, body)
	return f.addErr
}

func (f *fakeAssistant) CreateRun(_ context.Context, threadID string) (domain.Run, error) {
	if f.runErr != nil {
		return domain.Run{}, f.runErr
	}
	status := f.initial
	if status == "" {
		status = domain.RunStatusQueued
	}
	return domain.Run{ID: "run_1", ThreadID: threadID, Status: status}, nil
}

func (f *fakeAssistant) GetRun(_ context.Context, threadID, runID string) (domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getRunErr != nil {
		return domain.Run{}, f.getRunErr
	}
	status := domain.RunStatusCompleted
	if len(f.statuses) > 0 {
		idx := f.getRunCalls
		if idx >= len(f.statuses) {
			idx = len(f.statuses) - 1
		}
		status = f.statuses[idx]
	}
	f.getRunCalls++
	return domain.Run{ID: runID, ThreadID: threadID, Status: status}, nil
}

func (f *fakeAssistant) LatestMessage(_ context.Context, _ string) (string, error) {
	return f.latest, f.latestErr
}

type sentMessage struct {
	to   string
	body string
}

type fakeSender struct {
	mu      sync.Mutex
	results []domain.DeliveryResult
	sent    []sentMessage
}

func (f *fakeSender) SendText(_ context.Context, to, body string) domain.DeliveryResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{to: to, body: body})
	if len(f.results) == 0 {
		return domain.DeliveryResult{Status: domain.DeliverySent, HTTPStatus: 200, MessageID: "wamid.1"}
	}
	res := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return res
}

type fakeMedia struct {
	data  string
	err   error
	calls int
}

func (f *fakeMedia) DownloadMedia(_ context.Context, _ string, w io.Writer) error {
	f.calls++
	if f.err != nil {
		_, _ = io.WriteString(w, "partial")
		return f.err
	}
	_, err := io.WriteString(w, f.data)
	return err
}

type fakeTranscriber struct {
	text  string
	err   error
	got   string
	calls int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio io.Reader) (string, error) {
	f.calls++
	raw, err := io.ReadAll(audio)
	if err != nil {
		return "", err
	}
	f.got = string(raw)
	return f.text, f.err
}

var errUpstream = errors.New("upstream unavailable")
