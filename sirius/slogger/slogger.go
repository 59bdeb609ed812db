// Package slogger provides a shared LOG_LEVEL-aware slog initialization helper.
//
// Call Init() at the start of main() to configure the global slog logger.
// Legacy log.Print* calls are routed through the same handler via
// slog.SetDefault.
//
// Valid levels: "debug", "info", "warn", "error". Default: "info".
// Valid formats: "text", "json". Default: "text".
package slogger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// level holds the dynamic log level so it can be queried and changed at
// runtime.
var level *slog.LevelVar

// Options selects the level and output format. Empty fields fall back to
// LOG_LEVEL and "text".
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

// Init configures the global logger from LOG_LEVEL with a text handler on
// stdout.
func Init() {
	InitWith(Options{})
}

// InitWith configures the global logger. Records carry any attributes
// attached to their context with WithAttrs.
func InitWith(opts Options) *slog.Logger {
	lvl := opts.Level
	if lvl == "" {
		lvl = os.Getenv("LOG_LEVEL")
	}
	level = &slog.LevelVar{}
	level.Set(parseLevel(lvl))

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(opts.Format), "json") {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	logger := slog.New(ContextHandler{Handler: handler})
	slog.SetDefault(logger)
	return logger
}

// SetLevel changes the level of the logger configured by Init.
func SetLevel(s string) {
	if level == nil {
		return
	}
	level.Set(parseLevel(s))
}

// Level returns the current slog.Level. Useful for conditional logic such as
// skipping expensive debug formatting when not in debug mode.
func Level() slog.Level {
	if level == nil {
		return slog.LevelInfo
	}
	return level.Level()
}

// IsDebug returns true when the current log level is debug or lower.
func IsDebug() bool {
	return Level() <= slog.LevelDebug
}

// IsValidLevel reports whether s names a known level.
func IsValidLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "info", "warn", "warning", "error", "":
		return true
	default:
		return false
	}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type attrsKey struct{}

// ContextHandler adds the attributes stored in the record's context.
type ContextHandler struct {
	slog.Handler
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs, ok := ctx.Value(attrsKey{}).([]slog.Attr); ok {
		r.AddAttrs(attrs...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h ContextHandler) WithGroup(name string) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// WithAttrs returns a context whose log records carry attrs in addition to
// any attributes already attached.
func WithAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	existing, _ := ctx.Value(attrsKey{}).([]slog.Attr)
	merged := make([]slog.Attr, 0, len(existing)+len(attrs))
	merged = append(merged, existing...)
	merged = append(merged, attrs...)
	return context.WithValue(ctx, attrsKey{}, merged)
}
