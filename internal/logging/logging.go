package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var (
	// Logger is the process-wide structured logger.
	Logger *slog.Logger

	// Verbose enables debug logging
	Verbose bool

	level slog.LevelVar
)

// Attribute keys whose values never reach a log line.
var sensitiveKeys = map[string]bool{
	"token":    true,
	"secret":   true,
	"checksum": true,
}

// Redacted replaces the value of sensitive attributes.
const Redacted = "[redacted]"

func init() {
	Logger = slog.New(slog.NewTextHandler(os.Stderr, handlerOptions()))
}

func handlerOptions() *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level:       &level,
		ReplaceAttr: redact,
	}
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, Redacted)
	}
	return a
}

// Setup configures the logger for the CLI. Text goes to w (stderr when
// nil), JSON when jsonOutput is set. The result also becomes slog's
// default, which components fall back to when given no logger.
func Setup(verbose bool, jsonOutput bool, w io.Writer) {
	Verbose = verbose
	SetVerbose(verbose)

	if w == nil {
		w = os.Stderr
	}
	if jsonOutput {
		Logger = slog.New(slog.NewJSONHandler(w, handlerOptions()))
	} else {
		Logger = slog.New(slog.NewTextHandler(w, handlerOptions()))
	}
	slog.SetDefault(Logger)
}

// SetVerbose switches debug logging on or off without rebuilding handlers.
func SetVerbose(verbose bool) {
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}
}

// Component tags l with the name of the component logging through it.
// A nil l uses Logger.
func Component(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = Logger
	}
	return l.With("component", name)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func Debug(msg string, args ...any) { Logger.Debug(msg, args...) }

func Info(msg string, args ...any) { Logger.Info(msg, args...) }

func Warn(msg string, args ...any) { Logger.Warn(msg, args...) }

func Error(msg string, args ...any) { Logger.Error(msg, args...) }

// With returns a logger with additional attributes
func With(args ...any) *slog.Logger {
	return Logger.With(args...)
}
