package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"sort"
	"strings"
)

// secretPatterns matches the credential shapes that travel in B2 traffic:
// the headers, JSON fields and query parameters that carry tokens, plus the
// bare token formats themselves (account authorization tokens start with
// "4_", application keys with "K").
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(authorization(?:Token)?["':=\s]+)[^\s"',&;]+`),
	regexp.MustCompile(`(?i)(applicationKey["':=\s]+)[^\s"',&;]+`),
	regexp.MustCompile(`(?i)([?&](?:authorization|token|key|secret)=)[^&\s"']+`),
	regexp.MustCompile(`\b4_[0-9a-zA-Z+/=]{12,}\b`),
	regexp.MustCompile(`\bK[0-9a-zA-Z+/=]{24,}\b`),
}

// Redact masks B2 credential material embedded in s
func Redact(s string) string {
	for _, pattern := range secretPatterns {
		s = pattern.ReplaceAllString(s, "${1}[REDACTED]")
	}
	return s
}

// redactingHandler wraps another slog.Handler and masks credential material
// in the message and every string attribute before the record is written.
type redactingHandler struct {
	inner slog.Handler
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, rec slog.Record) error {
	clean := slog.NewRecord(rec.Time, rec.Level, Redact(rec.Message), rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = redactAttr(a)
	}
	return &redactingHandler{inner: h.inner.WithAttrs(clean)}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, Redact(a.Value.String()))
	case slog.KindGroup:
		members := a.Value.Group()
		clean := make([]any, 0, len(members))
		for _, m := range members {
			clean = append(clean, redactAttr(m))
		}
		return slog.Group(a.Key, clean...)
	}
	return a
}

// SetupLogging installs the process-wide slog logger from the merged
// configuration. Supported levels: "debug", "info", "warn", "error";
// quiet mode drops everything below errors, and debug mode adds source
// locations. A non-empty LogFile sends output there instead of stderr.
func SetupLogging(config *Config) error {
	var lvl slog.Level
	switch strings.ToLower(config.LogLevel) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	if config.EnableDebug {
		lvl = slog.LevelDebug
	}
	if config.QuietMode {
		lvl = slog.LevelError
	}

	var w io.Writer = os.Stderr
	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return NewValidationErrorWithValue("log_file", "failed to open log file", config.LogFile)
		}
		w = file
	}

	opts := &slog.HandlerOptions{Level: lvl, AddSource: config.EnableDebug}
	slog.SetDefault(slog.New(&redactingHandler{inner: slog.NewTextHandler(w, opts)}))
	return nil
}

// NewRedactedLogger builds a redacting logger over an arbitrary writer,
// independent of the process default
func NewRedactedLogger(w io.Writer, lvl slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: lvl}
	return slog.New(&redactingHandler{inner: slog.NewTextHandler(w, opts)})
}

// headerValue renders one header for debug output. Credential-bearing
// headers never reach the log at all, not even redacted.
func headerValue(name string, values []string) string {
	switch strings.ToLower(name) {
	case "authorization", "cookie", "set-cookie", "x-auth-token", "x-api-key":
		return "[REDACTED]"
	}
	return Redact(strings.Join(values, ", "))
}

// formatHeaders flattens headers into one deterministic debug string
func formatHeaders(h http.Header) string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s=%s", name, headerValue(name, h[name]))
	}
	return b.String()
}

// LogRequest emits a debug record for an outgoing request
func LogRequest(req *http.Request) {
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	slog.Debug("http request",
		"method", req.Method,
		"url", Redact(req.URL.String()),
		"headers", formatHeaders(req.Header),
	)
}

// LogResponse emits a debug record for a received response
func LogResponse(res *http.Response) {
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	slog.Debug("http response",
		"status", res.StatusCode,
		"headers", formatHeaders(res.Header),
	)
}
