// Package observability wires structured logging and tracing for garden.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mindgarden-dev/garden/internal/paths"
)

const redactedValue = "[REDACTED]"

type contextKey struct{}

// Config holds the configuration for the observability logger.
type Config struct {
	Level          string
	Format         string
	LogFile        string
	StderrMode     string
	InteractiveTTY bool
	SessionID      string
	CommandPath    string
	Version        string
	Commit         string
}

// WithLogger returns a new context carrying the given logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts the logger from ctx, falling back to slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}

	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}

	return slog.Default()
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var levels = map[string]slog.Level{
	"":        slog.LevelInfo,
	"info":    slog.LevelInfo,
	"debug":   slog.LevelDebug,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

var stderrModes = map[string]func(interactive bool) bool{
	"":      func(interactive bool) bool { return !interactive },
	"auto":  func(interactive bool) bool { return !interactive },
	"on":    func(bool) bool { return true },
	"true":  func(bool) bool { return true },
	"1":     func(bool) bool { return true },
	"off":   func(bool) bool { return false },
	"false": func(bool) bool { return false },
	"0":     func(bool) bool { return false },
}

// NewLogger creates a structured logger from the given configuration.
//
// Full-screen commands own the terminal, so in auto mode they log to the
// default log file instead of stderr.
func NewLogger(cfg *Config) (*slog.Logger, func() error, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	out, err := openSinks(cfg)
	if err != nil {
		return nil, nil, err
	}

	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: redactAttr}

	var handler slog.Handler

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "json":
		handler = slog.NewJSONHandler(out, opts)
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		_ = out.Close()
		return nil, nil, fmt.Errorf("invalid log format: %q (allowed: json, text)", cfg.Format)
	}

	logger := slog.New(handler).With(
		slog.String("session.id", cfg.SessionID),
		slog.String("command.path", cfg.CommandPath),
		slog.String("garden.version", cfg.Version),
		slog.String("garden.commit", cfg.Commit),
	)

	return logger, out.Close, nil
}

// sinks fans records out to stderr and an optional log file.
type sinks struct {
	io.Writer
	files []*os.File
}

func (s *sinks) Close() error {
	errs := make([]error, 0, len(s.files))
	for _, f := range s.files {
		errs = append(errs, f.Close())
	}

	return errors.Join(errs...)
}

func openSinks(cfg *Config) (*sinks, error) {
	mode, ok := stderrModes[strings.ToLower(strings.TrimSpace(cfg.StderrMode))]
	if !ok {
		return nil, fmt.Errorf("invalid --log-stderr value %q (allowed: auto, on, off)", cfg.StderrMode)
	}

	toStderr := mode(cfg.InteractiveTTY)

	path := strings.TrimSpace(cfg.LogFile)
	if path == "" && !toStderr {
		if !cfg.InteractiveTTY {
			return nil, errors.New("no log sinks configured: set --log-file or enable --log-stderr")
		}

		fallback, err := paths.DefaultLogFile()
		if err != nil {
			return nil, fmt.Errorf("resolve default log file: %w", err)
		}

		path = fallback
	}

	s := &sinks{}

	var writers []io.Writer
	if toStderr {
		writers = append(writers, os.Stderr)
	}

	if path != "" {
		file, err := openLogFile(path)
		if err != nil {
			return nil, err
		}

		s.files = append(s.files, file)
		writers = append(writers, file)
	}

	s.Writer = io.MultiWriter(writers...)

	return s, nil
}

func openLogFile(path string) (*os.File, error) {
	path = filepath.Clean(path)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create log file directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return file, nil
}

func parseLevel(level string) (slog.Leveler, error) {
	l, ok := levels[strings.ToLower(strings.TrimSpace(level))]
	if !ok {
		return nil, fmt.Errorf("invalid log level: %q (allowed: error, warn, info, debug)", level)
	}

	return l, nil
}

// redactAttr hides credentials and masks email addresses. Support sessions
// are sensitive, so an email is kept only as its first letter and domain.
func redactAttr(_ []string, attr slog.Attr) slog.Attr {
	key := strings.ToLower(attr.Key)

	switch {
	case isSensitiveKey(key):
		return slog.String(attr.Key, redactedValue)
	case strings.HasSuffix(key, "email") && attr.Value.Kind() == slog.KindString:
		return slog.String(attr.Key, maskEmail(attr.Value.String()))
	}

	return attr
}

func isSensitiveKey(key string) bool {
	if key == "authorization" {
		return true
	}

	for _, pattern := range []string{"token", "password", "secret", "credential", "cookie"} {
		if strings.Contains(key, pattern) {
			return true
		}
	}

	return false
}

func maskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return redactedValue
	}

	return local[:1] + "***@" + domain
}
