package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/m3rciful/wabot/core/logger"
	"github.com/m3rciful/wabot/core/whatsapp"
)

func TestChainOrder(t *testing.T) {
	var trace []string
	mw := func(name string) Middleware {
		return Middleware{Name: name, Use: func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, in *whatsapp.Inbound) error {
				trace = append(trace, name)
				return next(ctx, in)
			}
		}}
	}
	h := Chain(func(context.Context, *whatsapp.Inbound) error {
		trace = append(trace, "handler")
		return nil
	}, mw("a"), Middleware{Name: "nil"}, mw("b"))

	if err := h(context.Background(), &whatsapp.Inbound{}); err != nil {
		t.Fatalf("chain: %v", err)
	}
	if got := strings.Join(trace, ","); got != "a,b,handler" {
		t.Fatalf("order = %s", got)
	}
}

func TestRecoverReturnsError(t *testing.T) {
	h := Recover(func(context.Context, *whatsapp.Inbound) error { panic("kaboom") })
	err := h(context.Background(), &whatsapp.Inbound{})
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoggerSetsRequestContext(t *testing.T) {
	in := &whatsapp.Inbound{Phone: "5511999998888", ID: "3EB0AA", Body: "hola"}
	var rid, phone, msgID string
	h := Logger(func(ctx context.Context, _ *whatsapp.Inbound) error {
		rid = logger.RIDFrom(ctx)
		phone = logger.PhoneFrom(ctx)
		msgID = logger.MessageIDFrom(ctx)
		return nil
	})
	if err := h(context.Background(), in); err != nil {
		t.Fatalf("logger: %v", err)
	}
	if rid != "5511999998888:3EB0AA" || phone != in.Phone || msgID != in.ID {
		t.Fatalf("rid=%q phone=%q id=%q", rid, phone, msgID)
	}
}

func TestSummaryRecordsOutcome(t *testing.T) {
	var seen string
	h := Chain(func(ctx context.Context, _ *whatsapp.Inbound) error {
		RecordOutcome(ctx, "keyword")
		seen = outcomeFrom(ctx)
		if logger.HandlerFrom(ctx) != "responder" {
			t.Errorf("handler = %q", logger.HandlerFrom(ctx))
		}
		if whatsapp.SentFrom(ctx) != 0 {
			t.Errorf("sent = %d", whatsapp.SentFrom(ctx))
		}
		return nil
	}, Defaults("Responder")...)

	if err := h(context.Background(), &whatsapp.Inbound{Phone: "1", ID: "x"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if seen != "keyword" {
		t.Fatalf("outcome = %q", seen)
	}
	RecordOutcome(context.Background(), "ignored")
}

func TestSummaryPropagatesError(t *testing.T) {
	want := errors.New("db down")
	h := Chain(func(context.Context, *whatsapp.Inbound) error { return want }, Defaults("responder")...)
	if err := h(context.Background(), &whatsapp.Inbound{}); !errors.Is(err, want) {
		t.Fatalf("err = %v", err)
	}
}

type codedError struct{}

func (codedError) Error() string { return "coded" }
func (codedError) Code() string  { return "queue full" }

type plainError struct{}

func (*plainError) Error() string { return "plain" }

func TestDeriveErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: ""},
		{err: codedError{}, want: "QUEUE_FULL"},
		{err: fmt.Errorf("wrap: %w", codedError{}), want: "QUEUE_FULL"},
		{err: fmt.Errorf("wrap: %w", &plainError{}), want: "PLAINERROR"},
	}
	for _, tt := range tests {
		if got := deriveErrorCode(tt.err); got != tt.want {
			t.Errorf("deriveErrorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestNormalizeHandlerName(t *testing.T) {
	if got := normalizeHandlerName(" Keyword Reply "); got != "keyword_reply" {
		t.Fatalf("got %q", got)
	}
	if got := normalizeHandlerName(""); got != "unknown" {
		t.Fatalf("got %q", got)
	}
}
