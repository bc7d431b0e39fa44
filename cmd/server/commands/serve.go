package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"whatsapp-relay/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server",
		Long: `Start the HTTP server exposing the WhatsApp webhook, the
monitoring listing and a health check.

Examples:
  relay serve
  relay serve --addr 127.0.0.1:5000`,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "listen address (overrides HTTP_ADDR)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	relay, cfg, logger, logCloser, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()
	defer func() { _ = relay.Close() }()

	addr := cfg.HTTPAddr
	if flagAddr, _ := cmd.Flags().GetString("addr"); flagAddr != "" {
		addr = flagAddr
	}

	h, err := server.NewHandler(relay.Router, relay.Profiles, cfg.WhatsApp.VerifyToken, logger)
	if err != nil {
		return err
	}
	e := server.NewEcho(h)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay listening", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("shutting down relay")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
	return nil
}
