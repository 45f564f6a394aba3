// Package middleware wraps inbound WhatsApp handlers with recovery,
// request ids, send counters and a per-message summary line.
package middleware

import (
	"context"

	"github.com/m3rciful/wabot/core/whatsapp"
)

// HandlerFunc handles one inbound message.
type HandlerFunc func(ctx context.Context, in *whatsapp.Inbound) error

// Middleware decorates a HandlerFunc.
type Middleware struct {
	Name string
	Use  func(next HandlerFunc) HandlerFunc
}

// Chain applies mws so that the first one is the outermost.
func Chain(h HandlerFunc, mws ...Middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i].Use == nil {
			continue
		}
		h = mws[i].Use(h)
	}
	return h
}

// Defaults builds the shared chain for a named handler.
func Defaults(handler string) []Middleware {
	return []Middleware{
		{Name: "recover", Use: Recover},
		{Name: "logger", Use: Logger},
		{Name: "metrics", Use: Metrics},
		{Name: "summary", Use: Summary(handler)},
	}
}
