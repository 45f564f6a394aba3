// Package responder decides how to answer an inbound WhatsApp message:
// a one-time welcome, a keyword reply, the default reply, or nothing.
package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/wabot/core/logger"
	"github.com/m3rciful/wabot/core/textnorm"
	"github.com/m3rciful/wabot/internal/store"
)

// ErrNoSender is returned for messages whose sender has no phone number.
var ErrNoSender = errors.New("message has no sender phone")

// Message is an inbound chat message.
type Message struct {
	From      string
	Body      string
	ID        string
	PushName  string
	Timestamp time.Time
	// ReplyTo overrides the address replies go to, e.g. a LID JID whose
	// phone number is unknown. Empty means the sender's phone.
	ReplyTo   string
}

// Sender delivers outbound messages to a phone number.
type Sender interface {
	SendText(ctx context.Context, phone, text string) error
	SendMedia(ctx context.Context, phone, caption, mediaURL string) error
}

// Store is the persistence the router needs.
type Store interface {
	HasReceivedWelcome(ctx context.Context, phone string) (bool, error)
	ClaimWelcome(ctx context.Context, phone string, chatbotID int64) (bool, error)
	SessionChatbot(ctx context.Context, phone string) (int64, bool, error)
	PrimaryChatbot(ctx context.Context) (int64, bool, error)
	ChatbotState(ctx context.Context, id int64) (store.ChatbotState, error)
	WelcomeMessage(ctx context.Context) (string, error)
	DefaultReply(ctx context.Context) (string, error)
	ListFlows(ctx context.Context) ([]store.Flow, error)
	TouchConversation(ctx context.Context, phone string, at time.Time) error
}

// Outcome names the branch taken for a message.
type Outcome string

const (
	OutcomeWelcome  Outcome = "welcome"
	OutcomeKeyword  Outcome = "keyword"
	OutcomeDefault  Outcome = "default"
	OutcomeInactive Outcome = "inactive"
	OutcomeSilent   Outcome = "silent"
)

// Router implements the welcome and keyword state machine.
type Router struct {
	store  Store
	sender Sender

	trackConversations bool
	mediaTimeout       time.Duration
	now                func() time.Time
}

// DefaultMediaTimeout bounds a media send before the text fallback runs.
const DefaultMediaTimeout = 15 * time.Second

// Option configures a Router.
type Option func(*Router)

// WithConversationTracking records every inbound message in the
// conversations table so the reaper has something to expire.
func WithConversationTracking(enabled bool) Option {
	return func(r *Router) { r.trackConversations = enabled }
}

// WithMediaTimeout overrides DefaultMediaTimeout.
func WithMediaTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.mediaTimeout = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// New builds a Router.
func New(st Store, sender Sender, opts ...Option) *Router {
	r := &Router{store: st, sender: sender, mediaTimeout: DefaultMediaTimeout, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle processes one inbound message and sends at most one reply.
func (r *Router) Handle(ctx context.Context, msg Message) (Outcome, error) {
	phone := PhoneNumber(msg.From)
	if phone == "" {
		return OutcomeSilent, ErrNoSender
	}

	if r.trackConversations {
		if err := r.store.TouchConversation(ctx, phone, r.now()); err != nil {
			return "", err
		}
	}

	welcomed, err := r.store.HasReceivedWelcome(ctx, phone)
	if err != nil {
		return "", err
	}
	if !welcomed {
		chatbotID, _, err := r.store.PrimaryChatbot(ctx)
		if err != nil {
			return "", err
		}
		claimed, err := r.store.ClaimWelcome(ctx, phone, chatbotID)
		if err != nil {
			return "", err
		}
		if claimed {
			return OutcomeWelcome, r.sendWelcome(ctx, replyAddress(msg, phone))
		}
		// A concurrent message won the claim; this one is past the welcome.
	}
	return r.respond(ctx, phone, replyAddress(msg, phone), msg.Body)
}

// sendWelcome runs after the claim, so the number stays welcomed even when
// the text is empty or the send fails.
func (r *Router) sendWelcome(ctx context.Context, to string) error {
	text, err := r.store.WelcomeMessage(ctx)
	if err != nil {
		return err
	}
	if text == "" {
		logger.LogEvent(ctx, logger.Responder, slog.LevelInfo, "welcome.empty",
			slog.String("status", "skip"),
		)
		return nil
	}
	if err := r.sender.SendText(ctx, to, text); err != nil {
		return fmt.Errorf("send welcome: %w", err)
	}
	logger.LogEvent(ctx, logger.Responder, slog.LevelInfo, "welcome.sent",
		slog.String("status", "ok"),
	)
	return nil
}

func (r *Router) respond(ctx context.Context, phone, to, body string) (Outcome, error) {
	flows, err := r.store.ListFlows(ctx)
	if err != nil {
		return "", err
	}

	if flow, ok := Match(flows, textnorm.Tokens(body)); ok {
		state, err := r.store.ChatbotState(ctx, flow.ChatbotID)
		if err != nil {
			return "", err
		}
		if state.Inactive() {
			logger.LogEvent(ctx, logger.Responder, slog.LevelInfo, "chatbot.inactive",
				slog.String("status", "skip"),
				slog.Int64("chatbot_id", flow.ChatbotID),
				slog.Int64("flow_id", flow.ID),
			)
			return OutcomeInactive, nil
		}
		logger.LogEvent(ctx, logger.Responder, slog.LevelDebug, "keyword.matched",
			slog.Int64("chatbot_id", flow.ChatbotID),
			slog.Int64("flow_id", flow.ID),
			slog.String("keyword", flow.Keyword),
			slog.Bool("media", flow.HasMedia()),
		)
		return OutcomeKeyword, r.sendFlow(ctx, to, flow)
	}

	return r.sendDefault(ctx, phone, to)
}

// sendFlow tries the media form first and falls back to plain text once.
// The media attempt runs under its own deadline so the fallback always has
// ctx left to send with.
func (r *Router) sendFlow(ctx context.Context, to string, flow store.Flow) error {
	if !flow.HasMedia() {
		if err := r.sender.SendText(ctx, to, flow.Answer); err != nil {
			return fmt.Errorf("send answer: %w", err)
		}
		return nil
	}

	mediaCtx, cancel := context.WithTimeout(ctx, r.mediaTimeout)
	mediaErr := r.sender.SendMedia(mediaCtx, to, flow.Answer, flow.MediaURL)
	cancel()
	if mediaErr == nil {
		return nil
	}
	logger.LogEvent(ctx, logger.Responder, slog.LevelWarn, "media.fallback",
		slog.Int64("flow_id", flow.ID),
		slog.String("err", mediaErr.Error()),
	)
	if err := r.sender.SendText(ctx, to, flow.Answer); err != nil {
		return fmt.Errorf("send answer after media failure: %w", errors.Join(err, mediaErr))
	}
	return nil
}

func (r *Router) sendDefault(ctx context.Context, phone, to string) (Outcome, error) {
	chatbotID, ok, err := r.governingChatbot(ctx, phone)
	if err != nil {
		return "", err
	}
	if !ok {
		logger.LogEvent(ctx, logger.Responder, slog.LevelInfo, "default.skipped",
			slog.String("status", "skip"),
			slog.String("cause", "no_chatbot"),
		)
		return OutcomeSilent, nil
	}

	state, err := r.store.ChatbotState(ctx, chatbotID)
	if err != nil {
		return "", err
	}
	reply, err := r.store.DefaultReply(ctx)
	if err != nil {
		return "", err
	}
	if !state.Active() || reply == "" {
		cause := "empty_reply"
		if !state.Active() {
			cause = "chatbot_inactive"
		}
		logger.LogEvent(ctx, logger.Responder, slog.LevelInfo, "default.skipped",
			slog.String("status", "skip"),
			slog.String("cause", cause),
			slog.Int64("chatbot_id", chatbotID),
		)
		return OutcomeSilent, nil
	}

	if err := r.sender.SendText(ctx, to, reply); err != nil {
		return OutcomeDefault, fmt.Errorf("send default reply: %w", err)
	}
	return OutcomeDefault, nil
}

// governingChatbot is the chatbot stored on the session, or the primary
// chatbot for numbers welcomed before the association existed.
func (r *Router) governingChatbot(ctx context.Context, phone string) (int64, bool, error) {
	id, ok, err := r.store.SessionChatbot(ctx, phone)
	if err != nil || ok {
		return id, ok, err
	}
	return r.store.PrimaryChatbot(ctx)
}

func replyAddress(msg Message, phone string) string {
	if to := strings.TrimSpace(msg.ReplyTo); to != "" {
		return to
	}
	return phone
}
