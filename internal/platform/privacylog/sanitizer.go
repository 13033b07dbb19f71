package privacylog

import (
	"context"
	"log/slog"
	"strings"
)

const (
	redactedValue = "[REDACTED]"

	// Rejected calls are logged with their raw body and endpoint for
	// diagnostics; cap them so a single oversized call cannot flood the log.
	maxLoggedValueLen = 256
)

var (
	sensitiveKeyParts = []string{"token", "secret", "password", "authorization"}
	truncatedKeys     = map[string]struct{}{
		"body":     {},
		"endpoint": {},
		"query":    {},
	}
)

// SanitizingHandler wraps a slog.Handler so that credential-bearing
// attributes are redacted and oversized diagnostic values are truncated
// before they reach the sink.
type SanitizingHandler struct {
	next slog.Handler
}

func WrapHandler(next slog.Handler) slog.Handler {
	if next == nil {
		return nil
	}
	return &SanitizingHandler{next: next}
}

func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SanitizingHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(SanitizeAttr(attr))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SanitizingHandler{next: h.next.WithAttrs(sanitizeAttrs(attrs))}
}

func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{next: h.next.WithGroup(name)}
}

func SanitizeAttr(attr slog.Attr) slog.Attr {
	key := strings.TrimSpace(attr.Key)
	lowerKey := strings.ToLower(key)
	if isSensitiveKey(lowerKey) {
		return slog.String(key, redactedValue)
	}
	if _, ok := truncatedKeys[lowerKey]; ok && attr.Value.Kind() == slog.KindString {
		return slog.String(key, Truncate(attr.Value.String()))
	}
	return attr
}

// Truncate caps s at maxLoggedValueLen, appending a marker when
// anything was cut.
func Truncate(s string) string {
	if len(s) <= maxLoggedValueLen {
		return s
	}
	return s[:maxLoggedValueLen] + "...[truncated]"
}

func sanitizeAttrs(attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		out = append(out, SanitizeAttr(attr))
	}
	return out
}

func isSensitiveKey(key string) bool {
	for _, part := range sensitiveKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}
