// Package logging provides a configured slog logger with:
// - TTY detection for human-readable vs JSON output
// - LOG_FORMAT env var override (text/json)
// - LOG_LEVEL env var (debug/info/warn/error)
// - Source file:line info with shortened relative paths
// - request-scoped attributes (user_id, generation_id) carried on the context
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ContextKey is the type of the logging context keys.
type ContextKey string

const (
	// UserIDKey carries the resolved caller identity.
	UserIDKey ContextKey = "log_user_id"
	// GenerationIDKey carries the generation being orchestrated.
	GenerationIDKey ContextKey = "log_generation_id"
)

// WithUserID returns ctx whose log records carry user_id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithGenerationID returns ctx whose log records carry generation_id.
func WithGenerationID(ctx context.Context, generationID string) context.Context {
	return context.WithValue(ctx, GenerationIDKey, generationID)
}

// Options configures New. Zero values fall back to the environment.
type Options struct {
	Writer    io.Writer // Default os.Stdout
	Format    string    // "text" or "json"; default LOG_FORMAT, then TTY detection
	Level     string    // Default LOG_LEVEL, then info
	AddSource bool
}

// FromEnv returns the options used by the server.
func FromEnv() Options {
	return Options{
		Format:    os.Getenv("LOG_FORMAT"),
		Level:     os.Getenv("LOG_LEVEL"),
		AddSource: true,
	}
}

// New creates a new configured logger.
func New(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}

	useText := opts.Format == "text"
	if opts.Format == "" {
		f, ok := w.(*os.File)
		useText = ok && isatty(f)
	}

	// Get working directory for relative path calculation
	wd, _ := os.Getwd()

	handlerOpts := &slog.HandlerOptions{
		Level:     parseLogLevel(opts.Level),
		AddSource: opts.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				if src, ok := a.Value.Any().(*slog.Source); ok {
					if rel, err := filepath.Rel(wd, src.File); err == nil {
						src.File = rel
					} else {
						src.File = filepath.Base(src.File)
					}
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if useText {
		handler = slog.NewTextHandler(w, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(w, handlerOpts)
	}

	return slog.New(&contextHandler{Handler: handler})
}

// SetDefault creates a logger from the environment and sets it as the default
// slog logger. Returns the created logger for additional use.
func SetDefault() *slog.Logger {
	logger := New(FromEnv())
	slog.SetDefault(logger)
	return logger
}

// contextHandler adds the request-scoped attributes stored on the context.
type contextHandler struct {
	slog.Handler
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		if v, ok := ctx.Value(UserIDKey).(string); ok && v != "" {
			r.AddAttrs(slog.String("user_id", v))
		}
		if v, ok := ctx.Value(GenerationIDKey).(string); ok && v != "" {
			r.AddAttrs(slog.String("generation_id", v))
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// isatty returns true if the file is a terminal.
func isatty(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
