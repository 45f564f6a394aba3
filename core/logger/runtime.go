package logger

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"unicode"
)

type contextKey string

const (
	ctxRID       contextKey = "rid"
	ctxPhone     contextKey = "phone"
	ctxMessageID contextKey = "message_id"
	ctxLogger    contextKey = "logger"
	ctxHandler   contextKey = "handler"
)

// WithLogger stores the provided slog.Logger in context for propagation across layers.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxLogger, log)
}

// FromContext extracts slog.Logger from context or returns global default.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxLogger).(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return L
}

// WithRID attaches request correlation id into context.
func WithRID(ctx context.Context, rid string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxRID, rid)
}

// RIDFrom extracts rid from context if present.
func RIDFrom(ctx context.Context) string {
	return stringValue(ctx, ctxRID)
}

// WithMessageMeta attaches the sender phone and WhatsApp message id to context.
func WithMessageMeta(ctx context.Context, phone, messageID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if phone != "" {
		ctx = context.WithValue(ctx, ctxPhone, phone)
	}
	if messageID != "" {
		ctx = context.WithValue(ctx, ctxMessageID, messageID)
	}
	return ctx
}

// PhoneFrom returns the raw sender phone stored in context.
func PhoneFrom(ctx context.Context) string {
	return stringValue(ctx, ctxPhone)
}

// MessageIDFrom returns the inbound message id stored in context.
func MessageIDFrom(ctx context.Context) string {
	return stringValue(ctx, ctxMessageID)
}

// WithHandler stores handler identifier in context for downstream logs.
func WithHandler(ctx context.Context, handler string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if handler == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxHandler, handler)
}

// HandlerFrom returns handler identifier from context if present.
func HandlerFrom(ctx context.Context) string {
	return stringValue(ctx, ctxHandler)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(key).(string)
	return s
}

// MaskPhone keeps only the last four digits of a phone number.
func MaskPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}
	r := []rune(phone)
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}
	return strings.Repeat("*", len(r)-4) + string(r[len(r)-4:])
}

// Sanitize trims non-printable runes from s to keep logs clean.
// Tab and newline survive; Cc, Cf and DEL are dropped.
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == 0x7F, unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			return -1
		}
		return r
	}, s)
}

// SanitizeLimit applies Sanitize and limits the output length in runes.
func SanitizeLimit(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(Sanitize(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max])
}

// BuildRID returns a correlation identifier in the format phone:messageID.
func BuildRID(phone, messageID string) string {
	return strings.TrimSpace(phone) + ":" + strings.TrimSpace(messageID)
}

// CompactRID shortens a phone:messageID RID into base36 phone plus the
// lowercased message id. Other inputs are returned unchanged.
func CompactRID(rid string) string {
	rid = strings.TrimSpace(rid)
	phone, msgID, ok := strings.Cut(rid, ":")
	if !ok || phone == "" || msgID == "" || strings.Contains(msgID, ":") {
		return rid
	}
	n, err := strconv.ParseUint(phone, 10, 64)
	if err != nil {
		return rid
	}
	return strconv.FormatUint(n, 36) + "." + strings.ToLower(msgID)
}
