// Package whatsapp connects the bot to WhatsApp as a linked device and
// turns whatsmeow events into inbound messages.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	coreconfig "github.com/m3rciful/wabot/core/config"
	"github.com/m3rciful/wabot/core/logger"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotConnected is returned by send operations while the device is offline.
var ErrNotConnected = errors.New("whatsapp: not connected")

// Handler receives inbound messages. It runs on the whatsmeow event
// goroutine and must return quickly.
type Handler func(ctx context.Context, in *Inbound)

// Client wraps a whatsmeow client bound to a single linked device.
type Client struct {
	cfg          coreconfig.WhatsAppConfig
	pairing      *Pairing
	http         *http.Client
	mediaTimeout time.Duration

	mu        sync.Mutex
	wa        *whatsmeow.Client
	container *sqlstore.Container
	handler   Handler
	runCtx    context.Context
	cancel    context.CancelFunc

	connected atomic.Bool
	errs      atomic.Uint64
}

// Option configures a Client.
type Option func(*Client)

// WithPairing shares a pairing state with the portal.
func WithPairing(p *Pairing) Option {
	return func(c *Client) {
		if p != nil {
			c.pairing = p
		}
	}
}

// WithHTTPClient overrides the client used to fetch media URLs.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithMediaTimeout overrides DefaultMediaTimeout.
func WithMediaTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.mediaTimeout = d
		}
	}
}

// New builds a Client. Connect must be called before sending.
func New(cfg coreconfig.WhatsAppConfig, opts ...Option) *Client {
	c := &Client{cfg: cfg, mediaTimeout: DefaultMediaTimeout}
	for _, opt := range opts {
		opt(c)
	}
	if c.pairing == nil {
		c.pairing = NewPairing(cfg.PairTerminal, nil)
	}
	if c.http == nil {
		c.http = BuildHTTPClient()
	}
	return c
}

// OnMessage registers the inbound handler. Later calls replace earlier ones.
func (c *Client) OnMessage(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Pairing exposes the QR pairing state.
func (c *Client) Pairing() *Pairing {
	return c.pairing
}

// Connected reports whether the websocket is up and logged in.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// ErrorCount returns the number of failed sends.
func (c *Client) ErrorCount() uint64 {
	return c.errs.Load()
}

// Connect opens the device store and connects. An unpaired device starts
// the QR flow in the background and Connect returns immediately.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wa != nil {
		return errors.New("whatsapp: already connected")
	}

	start := time.Now()
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", c.cfg.SessionDB)
	container, err := sqlstore.New(ctx, "sqlite3", dsn, waLog.Noop)
	if err != nil {
		return fmt.Errorf("whatsapp: open session store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return fmt.Errorf("whatsapp: load device: %w", err)
	}

	store.SetOSInfo(c.cfg.DeviceName, [3]uint32{1, 0, 0})

	wa := whatsmeow.NewClient(device, waLog.Noop)
	wa.EnableAutoReconnect = true
	wa.AddEventHandler(c.handleEvent)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.wa = wa
	c.container = container
	c.runCtx = runCtx
	c.cancel = cancel

	if wa.Store.ID == nil {
		logger.WA.Info("device not paired",
			slog.String("event", "pair.required"),
			slog.String("device", c.cfg.DeviceName),
			slog.Bool("terminal", c.cfg.PairTerminal),
		)
		go c.pair(runCtx)
		return nil
	}

	c.pairing.setPaired()
	if err := wa.Connect(); err != nil {
		c.teardownLocked()
		return fmt.Errorf("whatsapp: connect: %w", err)
	}
	logger.WA.Info("connected",
		slog.String("event", "connect"),
		slog.String("status", "ok"),
		slog.String("jid", wa.Store.ID.String()),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

// Disconnect closes the websocket and the device store.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wa == nil {
		return
	}
	c.teardownLocked()
	logger.WA.Info("disconnected", slog.String("event", "disconnect"))
}

func (c *Client) teardownLocked() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wa.Disconnect()
	if c.container != nil {
		if err := c.container.Close(); err != nil {
			logger.WA.Warn("session store close failed",
				slog.String("event", "disconnect"),
				slog.String("err", err.Error()),
			)
		}
	}
	c.connected.Store(false)
	c.wa = nil
	c.container = nil
}

func (c *Client) client() *whatsmeow.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wa
}

// pair runs QR rounds until the device is linked or ctx ends.
func (c *Client) pair(ctx context.Context) {
	for round := 1; ctx.Err() == nil; round++ {
		err := c.pairOnce(ctx, round)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		logger.WA.Warn("pairing round ended",
			slog.String("event", "pair.retry"),
			slog.Int("count", round),
			slog.String("err", err.Error()),
		)
		wa := c.client()
		if wa == nil {
			return
		}
		wa.Disconnect()
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

var errPairTimeout = errors.New("whatsapp: QR code expired")

func (c *Client) pairOnce(ctx context.Context, round int) error {
	wa := c.client()
	if wa == nil {
		return ErrNotConnected
	}
	qrChan, err := wa.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("qr channel: %w", err)
	}
	if err := wa.Connect(); err != nil {
		return fmt.Errorf("connect for qr: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return errors.New("whatsapp: qr channel closed")
			}
			switch evt.Event {
			case "code":
				c.pairing.setCode(evt.Code)
				logger.WA.Info("qr code ready",
					slog.String("event", "pair.code"),
					slog.Int("count", round),
				)
			case "success":
				c.pairing.setPaired()
				logger.WA.Info("device paired",
					slog.String("event", "pair.success"),
					slog.String("status", "ok"),
				)
				return nil
			case "timeout":
				c.pairing.clearCode()
				return errPairTimeout
			default:
				if evt.Error != nil {
					c.pairing.clearCode()
					return fmt.Errorf("whatsapp: pairing: %w", evt.Error)
				}
			}
		}
	}
}
