package middleware

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/wabot/core/logger"
	"github.com/m3rciful/wabot/core/whatsapp"
)

// recentMessages keeps a short-lived set of logged message IDs; WhatsApp
// redelivers messages after reconnects.
var (
	recentMu      sync.Mutex
	recentMessage = make(map[string]time.Time)
	keepFor       = 10 * time.Minute
)

func alreadyLogged(id string) bool {
	if id == "" {
		return false
	}
	now := time.Now()
	recentMu.Lock()
	defer recentMu.Unlock()
	for k, ts := range recentMessage {
		if now.Sub(ts) > keepFor {
			delete(recentMessage, k)
		}
	}
	if _, ok := recentMessage[id]; ok {
		return true
	}
	recentMessage[id] = now
	return false
}

// Logger sets rid and message metadata on ctx and logs a sampled receipt line.
func Logger(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, in *whatsapp.Inbound) error {
		if in == nil {
			return next(ctx, in)
		}
		rid := logger.BuildRID(in.Phone, in.ID)
		ctx = logger.WithRID(ctx, rid)
		ctx = logger.WithMessageMeta(ctx, in.Phone, in.ID)
		ctx = logger.WithLogger(ctx, logger.Component("wa"))

		if logger.ShouldSampleDebug() && !alreadyLogged(in.ID) {
			attrs := []slog.Attr{
				slog.String("status", "ok"),
				slog.String("rid", rid),
			}
			if in.PushName != "" {
				attrs = append(attrs, slog.String("push_name", logger.SanitizeLimit(in.PushName, 64)))
			}
			if in.IsGroup {
				attrs = append(attrs, slog.String("chat", in.Chat))
			}
			if in.HasMedia {
				attrs = append(attrs, slog.Bool("media", true))
			}
			if in.Body != "" {
				attrs = append(attrs, slog.String("payload", logger.Preview(in.Body, 256)))
			}
			if !in.Timestamp.IsZero() {
				attrs = append(attrs, slog.Duration("lag", logger.RoundMS(time.Since(in.Timestamp))))
			}
			logger.LogEvent(ctx, logger.Component("wa"), slog.LevelDebug, "message.received", attrs...)
		}

		return next(ctx, in)
	}
}
