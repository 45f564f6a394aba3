package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/m3rciful/wabot/core/logger"
	"github.com/m3rciful/wabot/core/whatsapp"
)

// Recover turns handler panics into errors so one bad message cannot
// take the process down.
func Recover(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, in *whatsapp.Inbound) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.WA.Error("panic recovered",
					slog.String("event", "wa.panic"),
					slog.Any("err", r),
					slog.String("stack", string(debug.Stack())),
				)
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return next(ctx, in)
	}
}
