package middleware

import (
	"context"

	"github.com/m3rciful/wabot/core/whatsapp"
)

// Metrics attaches a send counter so the summary can report how many
// messages a handler sent.
func Metrics(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, in *whatsapp.Inbound) error {
		return next(whatsapp.WithSendCounter(ctx), in)
	}
}
