package whatsapp

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/wabot/core/logger"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// Inbound is a user message addressed to the bot.
type Inbound struct {
	// From is the sender JID, resolved from a LID to the phone JID when known.
	From      string
	Phone     string
	Chat      string
	Body      string
	ID        string
	PushName  string
	Timestamp time.Time
	IsGroup   bool
	HasMedia  bool
	// ReplyTo is set to the LID JID when no phone number is known for the
	// sender; replies must then go to the LID, not to a phone JID.
	ReplyTo   string
}

type jidResolver func(types.JID) types.JID

func (c *Client) handleEvent(raw interface{}) {
	switch evt := raw.(type) {
	case *events.Message:
		c.handleMessage(evt)
	case *events.Connected:
		c.connected.Store(true)
		c.pairing.setPaired()
		logger.WA.Info("websocket connected", slog.String("event", "connected"))
	case *events.Disconnected:
		c.connected.Store(false)
		logger.WA.Warn("websocket disconnected", slog.String("event", "disconnected"))
	case *events.LoggedOut:
		c.connected.Store(false)
		c.pairing.setUnpaired()
		logger.WA.Error("device logged out",
			slog.String("event", "logged_out"),
			slog.Int("err_code", int(evt.Reason)),
		)
	case *events.StreamReplaced:
		c.connected.Store(false)
		logger.WA.Error("session replaced by another client", slog.String("event", "stream_replaced"))
	}
}

func (c *Client) handleMessage(evt *events.Message) {
	c.mu.Lock()
	h := c.handler
	ctx := c.runCtx
	c.mu.Unlock()
	if h == nil || ctx == nil {
		return
	}
	in, ok := inboundFrom(evt, c.cfg.RespondToGroups, c.resolveLID(ctx))
	if !ok {
		return
	}
	h(ctx, in)
}

func (c *Client) resolveLID(ctx context.Context) jidResolver {
	return func(jid types.JID) types.JID {
		if jid.Server != types.HiddenUserServer {
			return jid
		}
		wa := c.client()
		if wa == nil || wa.Store == nil {
			return jid
		}
		alt, err := wa.Store.GetAltJID(ctx, jid)
		if err != nil || alt.IsEmpty() {
			return jid
		}
		return alt
	}
}

// inboundFrom filters and flattens a message event. Own messages, status
// broadcasts, messages without text and (unless enabled) group messages
// are dropped.
func inboundFrom(evt *events.Message, respondToGroups bool, resolve jidResolver) (*Inbound, bool) {
	if evt == nil {
		return nil, false
	}
	info := evt.Info
	if info.IsFromMe {
		return nil, false
	}
	if info.Chat.Server == types.BroadcastServer {
		return nil, false
	}
	if info.IsGroup && !respondToGroups {
		return nil, false
	}
	body, hasMedia, ok := messageBody(evt.Message)
	if !ok || strings.TrimSpace(body) == "" {
		return nil, false
	}

	sender := senderJID(info, resolve)
	chat := info.Chat
	if chat.Server == types.HiddenUserServer && chat.User == info.Sender.User {
		chat = sender
	} else if resolve != nil {
		chat = resolve(chat)
	}
	if sender.User == "" {
		return nil, false
	}
	var replyTo string
	if sender.Server == types.HiddenUserServer {
		replyTo = sender.ToNonAD().String()
	}
	return &Inbound{
		From:      sender.ToNonAD().String(),
		Phone:     sender.User,
		Chat:      chat.String(),
		Body:      body,
		ID:        string(info.ID),
		PushName:  info.PushName,
		Timestamp: info.Timestamp,
		IsGroup:   info.IsGroup,
		HasMedia:  hasMedia,
		ReplyTo:   replyTo,
	}, true
}

// senderJID maps a LID sender to its phone JID, preferring the alternate
// address carried by the event over a device store lookup.
func senderJID(info types.MessageInfo, resolve jidResolver) types.JID {
	sender := info.Sender
	if sender.Server != types.HiddenUserServer {
		return sender
	}
	if alt := info.SenderAlt; alt.Server == types.DefaultUserServer && alt.User != "" {
		return alt
	}
	if resolve != nil {
		return resolve(sender)
	}
	return sender
}

// messageBody returns the text of a user-visible message. Media without a
// caption yields an empty body; reactions and protocol messages are not
// content.
func messageBody(m *waE2E.Message) (body string, hasMedia bool, ok bool) {
	if m == nil {
		return "", false, false
	}
	switch {
	case m.Conversation != nil:
		return m.GetConversation(), false, true
	case m.ExtendedTextMessage != nil:
		return m.GetExtendedTextMessage().GetText(), false, true
	case m.ImageMessage != nil:
		return m.GetImageMessage().GetCaption(), true, true
	case m.VideoMessage != nil:
		return m.GetVideoMessage().GetCaption(), true, true
	case m.DocumentMessage != nil:
		return m.GetDocumentMessage().GetCaption(), true, true
	case m.AudioMessage != nil, m.StickerMessage != nil:
		return "", true, true
	case m.ButtonsResponseMessage != nil:
		return m.GetButtonsResponseMessage().GetSelectedDisplayText(), false, true
	case m.ListResponseMessage != nil:
		return m.GetListResponseMessage().GetTitle(), false, true
	}
	return "", false, false
}

