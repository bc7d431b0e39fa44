package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the handler and destination of the process logger.
type Config struct {
	// Level is "debug", "info" (default), "warn" or "error".
	Level string

	// Format is "json" (default) or "text".
	Format string

	// File enables rotated file output. Empty means stdout.
	File string

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds a logger for cfg and returns a closer for the file writer, if
// any.
func New(cfg Config) (*slog.Logger, io.Closer) {
	var (
		w      io.Writer = os.Stdout
		closer io.Closer = io.NopCloser(nil)
	)
	if cfg.File != "" {
		if cfg.MaxSizeMB <= 0 {
			cfg.MaxSizeMB = 10
		}
		if cfg.MaxBackups <= 0 {
			cfg.MaxBackups = 5
		}
		if cfg.MaxAgeDays <= 0 {
			cfg.MaxAgeDays = 10
		}
		_ = os.MkdirAll(filepath.Dir(cfg.File), 0o755)
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		w, closer = lj, lj
	}
	return slog.New(NewHandler(w, cfg)), closer
}

// NewHandler returns a JSON or text handler writing to w.
func NewHandler(w io.Writer, cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
