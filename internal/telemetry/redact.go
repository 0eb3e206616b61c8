package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

const redactedPlaceholder = "[redacted]"

// RedactingHandler wraps a slog handler so registered secret values
// never reach log output. API keys and webhook URLs surface easily in
// wrapped HTTP errors; scrubbing happens on every record.
type RedactingHandler struct {
	inner   slog.Handler
	secrets []string
}

// NewRedactingHandler creates a handler that replaces each secret
// value with a placeholder. Empty secrets are ignored.
func NewRedactingHandler(inner slog.Handler, secrets ...string) *RedactingHandler {
	kept := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if s != "" {
			kept = append(kept, s)
		}
	}
	return &RedactingHandler{inner: inner, secrets: kept}
}

// NewRedactedLogger creates a structured JSON logger that scrubs the
// given secret values from all output.
func NewRedactedLogger(w io.Writer, level slog.Level, secrets ...string) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(NewRedactingHandler(handler, secrets...))
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, record slog.Record) error {
	if len(h.secrets) == 0 {
		return h.inner.Handle(ctx, record)
	}

	out := slog.NewRecord(record.Time, record.Level, h.scrub(record.Message), record.PC)
	record.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, out)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	scrubbed := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		scrubbed[i] = h.redactAttr(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(scrubbed), secrets: h.secrets}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name), secrets: h.secrets}
}

// redactAttr scrubs string values. Other kinds pass through: secrets
// only enter logs as strings.
func (h *RedactingHandler) redactAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, h.scrub(a.Value.String()))
	}
	return a
}

func (h *RedactingHandler) scrub(s string) string {
	for _, secret := range h.secrets {
		s = strings.ReplaceAll(s, secret, redactedPlaceholder)
	}
	return s
}
