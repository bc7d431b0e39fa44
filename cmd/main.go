package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"whatsapp-relay/handler"
	"whatsapp-relay/internal/app"
	"whatsapp-relay/internal/config"
	"whatsapp-relay/internal/logging"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(config.BackendDynamoDB)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// CloudWatch collects stdout; LOG_FILE is ignored here.
	logger := slog.New(logging.NewHandler(os.Stdout, logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}))
	slog.SetDefault(logger)

	// ---- Services ----
	relay, err := app.New(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to wire relay", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(relay.Router, relay.Profiles, cfg.WhatsApp.VerifyToken, logger)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
