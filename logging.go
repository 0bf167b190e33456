package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/framehouse/dropsync/internal/config"
)

// maxLogFileMB is the size at which the log file is rotated.
const maxLogFileMB = 100

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it.
func buildLogger(cfg *config.Config) *slog.Logger {
	var (
		w   io.Writer = os.Stderr
		tty           = isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	)

	if cfg != nil && cfg.Logging.LogFile != "" {
		w = &lumberjack.Logger{
			Filename: cfg.Logging.LogFile,
			MaxSize:  maxLogFileMB,
			MaxAge:   cfg.Logging.LogRetentionDays,
			Compress: true,
		}
		tty = false
	}

	format := "auto"
	if cfg != nil {
		format = cfg.Logging.LogFormat
	}

	return slog.New(newLogHandler(w, format, tty, logLevel(cfg, flagVerbose, flagQuiet)))
}

// logLevel resolves the effective level. Flags win over the config file.
func logLevel(cfg *config.Config, verbose, quiet bool) slog.Level {
	level := slog.LevelInfo

	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if verbose {
		level = slog.LevelDebug
	}

	if quiet {
		level = slog.LevelError
	}

	return level
}

// newLogHandler picks text for terminals and JSON otherwise when format is
// "auto".
func newLogHandler(w io.Writer, format string, tty bool, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	if format == "text" || (format == "auto" && tty) {
		return slog.NewTextHandler(w, opts)
	}

	return slog.NewJSONHandler(w, opts)
}

// accessLogWriter adapts the combined access log, one line per Write, onto
// the structured logger.
func accessLogWriter(logger *slog.Logger) io.Writer {
	return accessLog{logger}
}

type accessLog struct {
	logger *slog.Logger
}

func (a accessLog) Write(p []byte) (int, error) {
	a.logger.LogAttrs(context.Background(), slog.LevelInfo, "http access",
		slog.String("line", string(bytes.TrimRight(p, "\n"))))

	return len(p), nil
}
