package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"whatsapp-relay/internal/domain"
)

// FallbackTechnicalProblem replaces the assistant reply when any step of the
// exchange fails.
const FallbackTechnicalProblem = "Désolé, je rencontre un problème technique."

// AssistantAPI is the subset of the Assistants API the relay drives.
type AssistantAPI interface {
	CreateThread(ctx context.Context) (string, error)
	AddUserMessage(ctx context.Context, threadID, body string) error
	CreateRun(ctx context.Context, threadID string) (domain.Run, error)
	GetRun(ctx context.Context, threadID, runID string) (domain.Run, error)
	LatestMessage(ctx context.Context, threadID string) (string, error)
}

// ThreadRepository stores one immutable thread handle per wa_id.
// StoreThread returns domain.ErrThreadExists when a handle is already set.
type ThreadRepository interface {
	FindThread(ctx context.Context, waID string) (string, bool, error)
	StoreThread(ctx context.Context, waID, threadID string) error
}

// PollPolicy bounds the wait for a run to finish. Zero MaxAttempts or zero
// Timeout disables that bound.
type PollPolicy struct {
	Interval    time.Duration
	MaxAttempts int
	Timeout     time.Duration
}

func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Interval:    500 * time.Millisecond,
		MaxAttempts: 240,
		Timeout:     2 * time.Minute,
	}
}

type ReplyStatus string

const (
	ReplyOK       ReplyStatus = "ok"
	ReplyDegraded ReplyStatus = "degraded"
)

// Reply is the result of GenerateResponse. Text is always safe to send.
type Reply struct {
	Status ReplyStatus
	Text   string
	Err    error
}

type ConversationService struct {
	assistant AssistantAPI
	threads   ThreadRepository
	policy    PollPolicy
	logger    *slog.Logger

	group singleflight.Group
	sleep func(ctx context.Context, d time.Duration) error
}

func NewConversationService(a AssistantAPI, t ThreadRepository, policy PollPolicy, logger *slog.Logger) (*ConversationService, error) {
	if a == nil {
		return nil, errors.New("usecase: assistant client must not be nil")
	}
	if t == nil {
		return nil, errors.New("usecase: thread repository must not be nil")
	}
	if policy.Interval <= 0 {
		policy.Interval = DefaultPollPolicy().Interval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationService{
		assistant: a,
		threads:   t,
		policy:    policy,
		logger:    logger,
		sleep:     sleepContext,
	}, nil
}

// ResolveThread returns the user's thread handle, creating and storing one on
// first use. Concurrent callers for the same wa_id share a single creation.
func (s *ConversationService) ResolveThread(ctx context.Context, waID string) (string, error) {
	v, err, _ := s.group.Do(waID, func() (any, error) {
		return s.resolveThread(ctx, waID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *ConversationService) resolveThread(ctx context.Context, waID string) (string, error) {
	threadID, ok, err := s.threads.FindThread(ctx, waID)
	if err != nil {
		return "", newError(ErrorStorage, "thread_lookup_error", err)
	}
	if ok {
		return threadID, nil
	}

	threadID, err = s.assistant.CreateThread(ctx)
	if err != nil {
		return "", newError(ErrorUpstream, "create_thread_error", err)
	}
	err = s.threads.StoreThread(ctx, waID, threadID)
	if errors.Is(err, domain.ErrThreadExists) {
		// Another process stored first; its handle wins.
		winner, ok, findErr := s.threads.FindThread(ctx, waID)
		if findErr != nil || !ok {
			return "", newError(ErrorStorage, "thread_reload_error", findErr)
		}
		s.logger.WarnContext(ctx, "discarding duplicate thread", "wa_id", waID, "thread_id", threadID, "kept", winner)
		return winner, nil
	}
	if err != nil {
		return "", newError(ErrorStorage, "thread_store_error", err)
	}
	s.logger.InfoContext(ctx, "thread created", "wa_id", waID, "thread_id", threadID)
	return threadID, nil
}

// AppendAndRun posts body to the thread, runs the assistant and waits for it
// to finish, then returns the newest message text.
func (s *ConversationService) AppendAndRun(ctx context.Context, threadID, body string) (string, error) {
	if err := s.assistant.AddUserMessage(ctx, threadID, body); err != nil {
		return "", newError(ErrorUpstream, "add_message_error", err)
	}
	run, err := s.assistant.CreateRun(ctx, threadID)
	if err != nil {
		return "", newError(ErrorUpstream, "create_run_error", err)
	}

	pollCtx := ctx
	if s.policy.Timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, s.policy.Timeout)
		defer cancel()
	}

	for attempt := 0; run.Status != domain.RunStatusCompleted; attempt++ {
		if !run.Pending() {
			return "", newError(ErrorRunFailed, "run_"+run.Status, runError(run))
		}
		if s.policy.MaxAttempts > 0 && attempt >= s.policy.MaxAttempts {
			return "", newError(ErrorRunTimeout, "max_attempts", fmt.Errorf("run %s still %s after %d polls", run.ID, run.Status, attempt))
		}
		if err := s.sleep(pollCtx, s.policy.Interval); err != nil {
			return "", s.pollContextError(ctx, run, err)
		}
		run, err = s.assistant.GetRun(pollCtx, threadID, run.ID)
		if err != nil {
			if pollCtx.Err() != nil {
				return "", s.pollContextError(ctx, run, err)
			}
			return "", newError(ErrorUpstream, "get_run_error", err)
		}
	}

	text, err := s.assistant.LatestMessage(ctx, threadID)
	if err != nil {
		return "", newError(ErrorUpstream, "latest_message_error", err)
	}
	return text, nil
}

// pollContextError tells a poll deadline apart from caller cancellation.
func (s *ConversationService) pollContextError(parent context.Context, run domain.Run, err error) error {
	if parent.Err() == nil {
		return newError(ErrorRunTimeout, "poll_timeout", fmt.Errorf("run %s: %w", run.ID, err))
	}
	return newError(ErrorInternal, "canceled", err)
}

// GenerateResponse resolves the user's thread and returns the assistant reply.
// Any failure degrades to FallbackTechnicalProblem.
func (s *ConversationService) GenerateResponse(ctx context.Context, waID, body string) Reply {
	threadID, err := s.ResolveThread(ctx, waID)
	if err == nil {
		var text string
		text, err = s.AppendAndRun(ctx, threadID, body)
		if err == nil {
			return Reply{Status: ReplyOK, Text: text}
		}
	}

	attrs := []any{"wa_id", waID, "code", CodeOf(err), "err", err}
	if status, ok := upstreamStatusCode(err); ok {
		attrs = append(attrs, "upstream_status", status)
	}
	s.logger.ErrorContext(ctx, "assistant exchange failed", attrs...)
	return Reply{Status: ReplyDegraded, Text: FallbackTechnicalProblem, Err: err}
}

func runError(run domain.Run) error {
	if msg := strings.TrimSpace(run.LastError); msg != "" {
		return fmt.Errorf("run %s %s: %s", run.ID, run.Status, msg)
	}
	return fmt.Errorf("run %s ended with status %q", run.ID, run.Status)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
