// Package observability provides structured logging for dowser.
//
// Scrape targets and resolved stream URLs routinely carry session cookies,
// bearer tokens, and signed query parameters. Every logger built here runs
// its attributes through a masq redaction filter and a query scrubber before
// they reach the handler, so a debug dump of a fetch cannot leak origin
// credentials.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/m-mizutani/masq"

	"dowser/internal/config"
)

// LevelTrace sits below slog.LevelDebug and carries per-candidate scan
// detail such as probe verdicts and relay segment rewrites.
const LevelTrace = slog.Level(-8)

// redactedValue replaces sensitive values in log output.
const redactedValue = "[REDACTED]"

// sensitiveFields are attribute keys whose values never reach log output.
var sensitiveFields = []string{
	"password", "Password",
	"secret", "Secret",
	"token", "Token",
	"apikey", "ApiKey", "api_key",
	"credential", "Credential",
	"Authorization", "Cookie", "Set-Cookie",
}

// sensitiveParams are URL query parameters scrubbed from logged strings.
// Names are compared case-insensitively.
var sensitiveParams = map[string]bool{
	"password":   true,
	"secret":     true,
	"token":      true,
	"apikey":     true,
	"api_key":    true,
	"credential": true,
	"auth":       true,
	"session":    true,
}

// contextKey is a type for context keys to avoid collisions.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"
	// loggerKey is the context key for the logger.
	loggerKey contextKey = "logger"
)

// NewLogger creates a new slog.Logger based on the provided configuration.
// The logger supports JSON and text formats with configurable log levels.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	return NewLoggerWithWriter(cfg, os.Stdout)
}

// NewLoggerWithWriter creates a new slog.Logger that writes to the provided
// writer. This is useful for testing or custom output destinations.
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := parseLevel(cfg.Level)

	maskOpts := []masq.Option{masq.WithFieldPrefix("secret_")}
	for _, name := range sensitiveFields {
		maskOpts = append(maskOpts, masq.WithFieldName(name))
	}
	redact := masq.New(maskOpts...)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				// Customize time format if specified
				if cfg.TimeFormat != "" {
					if t, ok := a.Value.Any().(time.Time); ok {
						return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
					}
				}
				return a
			case slog.LevelKey:
				// slog prints custom levels as offsets ("DEBUG-4")
				if lv, ok := a.Value.Any().(slog.Level); ok && lv == LevelTrace {
					return slog.String(slog.LevelKey, "TRACE")
				}
				return a
			case slog.SourceKey:
				if src, ok := a.Value.Any().(*slog.Source); ok {
					return slog.String("logpos", fmt.Sprintf("%s:%d", shortPath(src.File), src.Line))
				}
				return a
			}
			if a.Value.Kind() == slog.KindString {
				a.Value = slog.StringValue(scrubQuery(a.Value.String()))
			}
			return redact(groups, a)
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		// Default to JSON if format is unknown
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch level {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// shortPath trims a source file path to its last three segments, enough to
// identify a file within the module without the build host's prefix.
func shortPath(file string) string {
	parts := strings.Split(file, "/")
	if len(parts) <= 3 {
		return file
	}
	return strings.Join(parts[len(parts)-3:], "/")
}

// scrubQuery replaces the values of sensitive query parameters in a URL
// string, keeping the rest of the query intact. Strings without a query
// component come back unchanged.
func scrubQuery(s string) string {
	base, query, found := strings.Cut(s, "?")
	if !found || !strings.Contains(query, "=") {
		return s
	}
	query, frag, hasFrag := strings.Cut(query, "#")
	parts := strings.Split(query, "&")
	changed := false
	for i, part := range parts {
		name, _, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		if sensitiveParams[strings.ToLower(name)] {
			parts[i] = name + "=" + redactedValue
			changed = true
		}
	}
	if !changed {
		return s
	}
	out := base + "?" + strings.Join(parts, "&")
	if hasFrag {
		out += "#" + frag
	}
	return out
}

// WithComponent adds a component name to the logger for identifying the
// source.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// LoggerFromContext extracts a logger from the context.
// If no logger is found, returns the default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// ContextWithLogger adds a logger to the context.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// RequestIDFromContext extracts a request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithRequestID adds a request ID to the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// SetDefault sets the provided logger as the default slog logger. This
// affects all code using slog.Info(), slog.Error(), etc. without a
// specific logger.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
