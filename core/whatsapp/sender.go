package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/m3rciful/wabot/core/logger"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

type sendCounterKey struct{}

// WithSendCounter attaches a counter of successful sends to ctx.
func WithSendCounter(ctx context.Context) context.Context {
	if _, ok := ctx.Value(sendCounterKey{}).(*atomic.Int64); ok {
		return ctx
	}
	return context.WithValue(ctx, sendCounterKey{}, new(atomic.Int64))
}

// SentFrom returns the number of messages sent under ctx.
func SentFrom(ctx context.Context) int {
	if n, ok := ctx.Value(sendCounterKey{}).(*atomic.Int64); ok {
		return int(n.Load())
	}
	return 0
}

func countSend(ctx context.Context) {
	if n, ok := ctx.Value(sendCounterKey{}).(*atomic.Int64); ok {
		n.Add(1)
	}
}

// SendText sends a plain text message to a phone number or JID.
func (c *Client) SendText(ctx context.Context, phone, text string) error {
	jid, err := parseJID(phone)
	if err != nil {
		return err
	}
	return c.send(ctx, jid, "text", &waE2E.Message{Conversation: proto.String(text)})
}

// SendMedia downloads mediaURL, uploads it to WhatsApp and sends it with
// caption. Download and upload share the media timeout so a slow host
// leaves ctx usable for a fallback. Failures are returned as is.
func (c *Client) SendMedia(ctx context.Context, phone, caption, mediaURL string) error {
	jid, err := parseJID(phone)
	if err != nil {
		return err
	}
	wa := c.client()
	if wa == nil || !c.connected.Load() {
		return ErrNotConnected
	}

	start := time.Now()
	m, up, err := c.prepareMedia(ctx, wa, mediaURL)
	if err != nil {
		c.errs.Add(1)
		return err
	}
	logger.Debug(ctx, "wa.sender", "media.uploaded",
		slog.String("mime", m.mime),
		slog.Int("bytes", len(m.data)),
		slog.Duration("duration", logger.Took(start)),
	)
	return c.send(ctx, jid, "media", buildMediaMessage(m, up, caption))
}

func (c *Client) send(ctx context.Context, to types.JID, kind string, msg *waE2E.Message) error {
	wa := c.client()
	if wa == nil || !c.connected.Load() {
		return ErrNotConnected
	}
	start := time.Now()
	resp, err := wa.SendMessage(ctx, to, msg)
	if err != nil {
		c.errs.Add(1)
		logger.Error(ctx, "wa.sender", "send.fail",
			slog.String("media", kind),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.Duration("duration", logger.Took(start)),
		)
		return fmt.Errorf("whatsapp: send %s: %w", kind, err)
	}
	countSend(ctx)
	logger.Debug(ctx, "wa.sender", "send.success",
		slog.String("media", kind),
		slog.String("sent_id", string(resp.ID)),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

// uploader is the part of whatsmeow used for attachments.
type uploader interface {
	Upload(ctx context.Context, data []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
}

func (c *Client) prepareMedia(ctx context.Context, up uploader, mediaURL string) (*media, whatsmeow.UploadResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.mediaTimeout)
	defer cancel()

	m, err := fetchMedia(ctx, c.http, mediaURL)
	if err != nil {
		return nil, whatsmeow.UploadResponse{}, err
	}
	resp, err := up.Upload(ctx, m.data, m.kind)
	if err != nil {
		return nil, whatsmeow.UploadResponse{}, fmt.Errorf("whatsapp: upload media: %w", err)
	}
	return m, resp, nil
}
