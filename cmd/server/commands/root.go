// Package commands implements the relay server CLI.
package commands

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"whatsapp-relay/internal/app"
	"whatsapp-relay/internal/config"
	"whatsapp-relay/internal/logging"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "WhatsApp to OpenAI Assistants relay",
		Long: `relay receives WhatsApp Cloud API webhooks, forwards text and
transcribed voice notes to an OpenAI assistant and replies to the sender.

Examples:
  relay serve --addr :8080
  relay users`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newUsersCmd(),
	)

	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logs")

	return rootCmd
}

// setup loads the dotenv file and configuration, then wires the relay.
func setup(cmd *cobra.Command) (*app.App, config.Config, *slog.Logger, io.Closer, error) {
	envFile, _ := cmd.Root().PersistentFlags().GetString("env-file")
	if envFile != "" {
		// godotenv.Load does not overwrite variables already set.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, config.Config{}, nil, nil, err
		}
	}

	cfg, err := config.Load(config.BackendSQLite)
	if err != nil {
		return nil, config.Config{}, nil, nil, err
	}
	if verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose"); verbose {
		cfg.Log.Level = "debug"
	}

	logger, logCloser := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	slog.SetDefault(logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	relay, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logCloser.Close()
		return nil, config.Config{}, nil, nil, err
	}
	return relay, cfg, logger, logCloser, nil
}
