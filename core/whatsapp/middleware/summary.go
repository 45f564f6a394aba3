package middleware

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/m3rciful/wabot/core/logger"
	"github.com/m3rciful/wabot/core/whatsapp"
)

type outcomeKey struct{}

type outcomeHolder struct {
	mu    sync.Mutex
	value string
}

// RecordOutcome lets a handler report which branch it took. It is a no-op
// outside of Summary.
func RecordOutcome(ctx context.Context, outcome string) {
	if h, ok := ctx.Value(outcomeKey{}).(*outcomeHolder); ok {
		h.mu.Lock()
		h.value = outcome
		h.mu.Unlock()
	}
}

func outcomeFrom(ctx context.Context) string {
	if h, ok := ctx.Value(outcomeKey{}).(*outcomeHolder); ok {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.value
	}
	return ""
}

// Summary logs one handler.handled line per message.
func Summary(handler string) func(HandlerFunc) HandlerFunc {
	name := normalizeHandlerName(handler)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, in *whatsapp.Inbound) error {
			start := time.Now()
			ctx = logger.WithHandler(ctx, name)
			ctx = context.WithValue(ctx, outcomeKey{}, &outcomeHolder{})
			err := next(ctx, in)
			logHandlerSummary(ctx, name, start, err)
			return err
		}
	}
}

func logHandlerSummary(ctx context.Context, handler string, start time.Time, err error) {
	status := logger.Status(err)
	outcome := outcomeFrom(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		status, outcome = "cancelled", "cancelled"
	case err != nil:
		outcome = "fail"
	case outcome == "":
		outcome = "silent"
	}

	attrs := []slog.Attr{
		slog.String("status", status),
		slog.String("handler", handler),
		slog.String("outcome", outcome),
		slog.Int("messages", whatsapp.SentFrom(ctx)),
		slog.Int64("duration_ms", logger.RoundMS(time.Since(start)).Milliseconds()),
	}
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("err_code", deriveErrorCode(err)),
			slog.String("cause", handler),
		)
	}
	logger.LogEvent(ctx, logger.Component("wa"), level, "handler.handled", attrs...)
}

func normalizeHandlerName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "unknown"
	}
	return strings.ToLower(strings.ReplaceAll(name, " ", "_"))
}

func deriveErrorCode(err error) string {
	if err == nil {
		return ""
	}
	type coder interface{ Code() string }
	var c coder
	if errors.As(err, &c) {
		if code := strings.TrimSpace(c.Code()); code != "" {
			return strings.ToUpper(strings.ReplaceAll(code, " ", "_"))
		}
	}
	for unwrapped := errors.Unwrap(err); unwrapped != nil; unwrapped = errors.Unwrap(unwrapped) {
		err = unwrapped
	}
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t != nil && t.Name() != "" {
		return strings.ToUpper(t.Name())
	}
	return "UNKNOWN_ERROR"
}
