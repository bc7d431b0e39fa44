package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"whatsapp-relay/internal/domain"
)

const (
	FallbackUnsupported  = "Je ne peux traiter que les messages texte et vocaux."
	FallbackGenericError = "Désolé, j'ai rencontré un problème technique. Réessayez dans quelques instants."
)

type ProfileResolver interface {
	GetOrCreate(ctx context.Context, waID, name string) domain.UserProfile
}

type VoiceTranscriber interface {
	MessageBody(ctx context.Context, mediaID string) (string, bool)
}

type Responder interface {
	GenerateResponse(ctx context.Context, waID, body string) Reply
}

type Sender interface {
	SendText(ctx context.Context, to, body string) domain.DeliveryResult
}

type OutcomeStatus string

const (
	OutcomeReplied      OutcomeStatus = "replied"
	OutcomeDegraded     OutcomeStatus = "degraded"
	OutcomeErrorReplied OutcomeStatus = "error_replied"
	OutcomeDropped      OutcomeStatus = "dropped"
)

// Outcome describes what the router did with one webhook event.
type Outcome struct {
	Status   OutcomeStatus
	WaID     string
	Delivery domain.DeliveryResult
	Err      error
}

type Router struct {
	profiles ProfileResolver
	voice    VoiceTranscriber
	replies  Responder
	sender   Sender
	logger   *slog.Logger
}

func NewRouter(profiles ProfileResolver, voice VoiceTranscriber, replies Responder, sender Sender, logger *slog.Logger) (*Router, error) {
	if profiles == nil {
		return nil, errors.New("usecase: profile resolver must not be nil")
	}
	if voice == nil {
		return nil, errors.New("usecase: voice transcriber must not be nil")
	}
	if replies == nil {
		return nil, errors.New("usecase: responder must not be nil")
	}
	if sender == nil {
		return nil, errors.New("usecase: sender must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{profiles: profiles, voice: voice, replies: replies, sender: sender, logger: logger}, nil
}

// Handle processes one webhook body end to end. It never returns an error;
// the caller acknowledges the webhook whatever the outcome.
func (r *Router) Handle(ctx context.Context, raw []byte) (out Outcome) {
	evt, err := parseEvent(raw)
	if err != nil {
		r.logger.DebugContext(ctx, "webhook event ignored", "correlation_id", CorrelationID(ctx), "err", err)
		return Outcome{Status: OutcomeDropped, Err: err}
	}

	logger := r.logger.With("wa_id", evt.waID, "correlation_id", CorrelationID(ctx))
	defer func() {
		if p := recover(); p != nil {
			out = r.replyWithError(ctx, logger, evt.waID, fmt.Errorf("panic: %v", p))
		}
	}()

	msg, err := evt.inboundMessage()
	if err != nil {
		return r.replyWithError(ctx, logger, evt.waID, err)
	}
	return r.process(ctx, logger, msg)
}

func (r *Router) process(ctx context.Context, logger *slog.Logger, msg domain.InboundMessage) Outcome {
	profile := r.profiles.GetOrCreate(ctx, msg.WaID, msg.Name)
	logger.InfoContext(ctx, "message received",
		"name", msg.Name,
		"type", msg.Type,
		"message_count", profile.MessageCount,
	)

	status := OutcomeReplied
	var body string
	switch msg.Kind {
	case domain.MessageText:
		body = msg.Body
	case domain.MessageAudio:
		var ok bool
		if body, ok = r.voice.MessageBody(ctx, msg.MediaID); !ok {
			status = OutcomeDegraded
		}
	default:
		body = FallbackUnsupported
		status = OutcomeDegraded
	}

	reply := r.replies.GenerateResponse(ctx, msg.WaID, body)
	if reply.Status != ReplyOK {
		status = OutcomeDegraded
	}

	text := FormatForWhatsApp(reply.Text)
	if text == "" {
		logger.WarnContext(ctx, "assistant reply empty after formatting")
		text = FallbackTechnicalProblem
		status = OutcomeDegraded
	}
	res := r.sender.SendText(ctx, msg.WaID, text)
	r.logDelivery(ctx, logger, res)
	return Outcome{Status: status, WaID: msg.WaID, Delivery: res, Err: reply.Err}
}

// replyWithError sends the generic apology to waID. A failed send is only
// logged.
func (r *Router) replyWithError(ctx context.Context, logger *slog.Logger, waID string, cause error) (out Outcome) {
	logger.ErrorContext(ctx, "message processing failed", "code", CodeOf(cause), "err", cause)
	out = Outcome{Status: OutcomeErrorReplied, WaID: waID, Err: cause}
	defer func() {
		if p := recover(); p != nil {
			logger.ErrorContext(ctx, "could not send error message", "panic", p)
			out.Status = OutcomeDropped
		}
	}()
	out.Delivery = r.sender.SendText(ctx, waID, FallbackGenericError)
	r.logDelivery(ctx, logger, out.Delivery)
	if !out.Delivery.OK() {
		out.Status = OutcomeDropped
	}
	return out
}

func (r *Router) logDelivery(ctx context.Context, logger *slog.Logger, res domain.DeliveryResult) {
	switch res.Status {
	case domain.DeliverySent:
		logger.InfoContext(ctx, "reply sent", "message_id", res.MessageID)
	case domain.DeliveryTimeout:
		logger.ErrorContext(ctx, "reply send timed out", "err", res.Err)
	default:
		logger.ErrorContext(ctx, "reply send failed", "http_status", res.HTTPStatus, "err", res.Err)
	}
}
