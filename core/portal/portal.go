// Package portal serves the pairing QR code and a health endpoint over HTTP.
package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/m3rciful/wabot/core/logger"
)

// QRSource exposes the pairing state.
type QRSource interface {
	Code() (string, bool)
	Paired() bool
}

// Check reports readiness of a dependency. A nil error means healthy.
type Check func(ctx context.Context) error

// Server is the pairing portal.
type Server struct {
	listen string
	src    QRSource
	checks map[string]Check
	engine *gin.Engine

	mu  sync.Mutex
	srv *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithCheck adds a named readiness check to /healthz.
func WithCheck(name string, check Check) Option {
	return func(s *Server) {
		if check != nil {
			s.checks[name] = check
		}
	}
}

// New builds the portal. Call Start to listen.
func New(listen string, src QRSource, opts ...Option) *Server {
	s := &Server{
		listen: listen,
		src:    src,
		checks: make(map[string]Check),
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), accessLog())
	r.GET("/", s.index)
	r.GET("/qr", s.qr)
	r.GET("/healthz", s.healthz)
	s.engine = r
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("portal: already started")
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.listen)
	if err != nil {
		return fmt.Errorf("portal: listen %s: %w", s.listen, err)
	}
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.srv = srv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "portal", "portal.serve",
				slog.String("err", err.Error()),
			)
		}
	}()
	logger.Info(ctx, "portal", "portal.start",
		slog.String("status", "ok"),
		slog.String("listen", ln.Addr().String()),
	)
	return nil
}

// Shutdown stops the listener, waiting for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	logger.Info(ctx, "portal", "portal.stop", slog.String("status", logger.Status(err)))
	return err
}

const indexPending = `<!doctype html>
<html><head><meta charset="utf-8"><meta http-equiv="refresh" content="20">
<title>Link WhatsApp</title></head>
<body style="font-family:sans-serif;text-align:center">
<h1>Scan with WhatsApp</h1>
<p>Settings, Linked devices, Link a device.</p>
<img src="/qr" alt="QR code" width="256" height="256">
</body></html>`

const indexPaired = `<!doctype html>
<html><head><meta charset="utf-8"><title>WhatsApp linked</title></head>
<body style="font-family:sans-serif;text-align:center">
<h1>Device linked</h1>
</body></html>`

func (s *Server) index(c *gin.Context) {
	if s.src.Paired() {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexPaired))
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexPending))
}

// qr answers 204 once paired and 404 while no code has been issued yet.
func (s *Server) qr(c *gin.Context) {
	if s.src.Paired() {
		c.Status(http.StatusNoContent)
		return
	}
	code, ok := s.src.Code()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"status": "pending"})
		return
	}
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		logger.Error(c.Request.Context(), "portal", "qr.encode", slog.String("err", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "fail"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}
	body := gin.H{
		"status": "ok",
		"paired": s.src.Paired(),
		"checks": checks,
	}
	if status != http.StatusOK {
		body["status"] = "fail"
	}
	c.JSON(status, body)
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug(c.Request.Context(), "portal", "http.request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("code", c.Writer.Status()),
			slog.Duration("duration", logger.Took(start)),
		)
	}
}
