// Package app wires configuration, storage, the WhatsApp transport, the
// responder and the reaper into runnable commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/wabot/core/bootstrap"
	coredatabase "github.com/m3rciful/wabot/core/database"
	"github.com/m3rciful/wabot/core/logger"
	"github.com/m3rciful/wabot/core/portal"
	"github.com/m3rciful/wabot/core/whatsapp"
	"github.com/m3rciful/wabot/core/whatsapp/dispatch"
	"github.com/m3rciful/wabot/core/whatsapp/middleware"
	"github.com/m3rciful/wabot/internal/reaper"
	"github.com/m3rciful/wabot/internal/responder"
	"github.com/m3rciful/wabot/internal/store"
)

const (
	databaseReadyTimeout = 30 * time.Second
	shutdownTimeout      = 15 * time.Second
	handlerName          = "responder"
)

// Transport is the WhatsApp side the server needs.
type Transport interface {
	responder.Sender
	Connect(ctx context.Context) error
	Disconnect()
	OnMessage(h whatsapp.Handler)
	Connected() bool
	Pairing() *whatsapp.Pairing
}

// Server is the long-running responder service.
type Server struct {
	cfg  *Config
	boot *bootstrap.Result

	store      *store.Store
	router     *responder.Router
	transport  Transport
	dispatcher *dispatch.Dispatcher
	portal     *portal.Server
	reaper     *reaper.Reaper
	handle     middleware.HandlerFunc
}

// ServerOption customizes a Server, mainly for tests.
type ServerOption func(*serverOptions)

type serverOptions struct {
	transport Transport
	boot      *bootstrap.Options
}

// WithTransport replaces the whatsmeow client.
func WithTransport(t Transport) ServerOption {
	return func(o *serverOptions) { o.transport = t }
}

// WithBootstrap overrides bootstrap hooks such as Connect or LoggerInit.
func WithBootstrap(opts bootstrap.Options) ServerOption {
	return func(o *serverOptions) { o.boot = &opts }
}

func bootstrapOptions(cfg *Config, override *bootstrap.Options) bootstrap.Options {
	opts := bootstrap.Options{}
	if override != nil {
		opts = *override
	}
	opts.Config = &cfg.Config
	opts.Database = cfg.Database
	if opts.Connect == nil {
		opts.Connect = connectWhenReady
	}
	if cfg.SeedFile != "" {
		opts.Modules.Seeders = append(opts.Modules.Seeders, fixtureSeeder(cfg.SeedFile))
	}
	return opts
}

// connectWhenReady waits for network databases before opening the pool.
func connectWhenReady(ctx context.Context, cfg coredatabase.Config) (*sqlx.DB, error) {
	if cfg.Driver != coredatabase.DriverSQLite {
		if err := coredatabase.WaitForDatabase(ctx, cfg, databaseReadyTimeout); err != nil {
			return nil, err
		}
	}
	return coredatabase.Connect(ctx, cfg)
}

func fixtureSeeder(path string) bootstrap.Seeder {
	return bootstrap.SeederFunc(func(ctx context.Context, db *sqlx.DB) error {
		fixture, err := store.LoadFixture(path)
		if err != nil {
			return err
		}
		seeded, err := store.New(db).Seed(ctx, fixture)
		if err != nil {
			return err
		}
		status := "ok"
		if !seeded {
			status = "skip"
		}
		logger.DB.Info("fixture processed",
			slog.String("event", "seed.fixture"),
			slog.String("status", status),
			slog.Int("count", len(fixture.Flows)),
		)
		return nil
	})
}

// NewServer bootstraps infrastructure and assembles the service. Nothing
// connects to WhatsApp until Run.
func NewServer(ctx context.Context, cfg *Config, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	var so serverOptions
	for _, opt := range opts {
		opt(&so)
	}

	boot, err := bootstrap.Run(ctx, bootstrapOptions(cfg, so.boot))
	if err != nil {
		return nil, err
	}

	st := store.New(boot.DB, store.WithPrimaryChatbot(cfg.Responder.ChatbotID))

	transport := so.transport
	if transport == nil {
		pairing := whatsapp.NewPairing(cfg.WhatsApp.PairTerminal, nil)
		transport = whatsapp.New(cfg.WhatsApp, whatsapp.WithPairing(pairing))
	}

	s := &Server{
		cfg:       cfg,
		boot:      boot,
		store:     st,
		transport: transport,
		router: responder.New(st, transport,
			responder.WithConversationTracking(cfg.Responder.Tracking()),
		),
		reaper: reaper.New(st, reaper.WithSchedule(cfg.Reaper.Schedule)),
	}
	s.handle = middleware.Chain(s.respond, middleware.Defaults(handlerName)...)

	if cfg.Portal.Enabled {
		s.portal = portal.New(cfg.Portal.Listen, transport.Pairing(),
			portal.WithCheck("db", boot.DB.PingContext),
			portal.WithCheck("whatsapp", s.transportHealthy),
		)
	}
	return s, nil
}

// Run starts the dispatcher, WhatsApp, the portal and the reaper, then
// blocks until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.dispatcher = dispatch.New(dispatch.Options{
		Workers:   s.cfg.Responder.Workers,
		QueueSize: s.cfg.Responder.QueueSize,
	})
	s.transport.OnMessage(s.enqueue)

	if err := s.transport.Connect(ctx); err != nil {
		return err
	}
	if s.portal != nil {
		if err := s.portal.Start(ctx); err != nil {
			return err
		}
	}
	if !s.cfg.Reaper.Disabled {
		if err := s.reaper.Start(ctx); err != nil {
			return err
		}
	}

	<-ctx.Done()
	return ctx.Err()
}

// Close tears everything down in reverse start order. Queued messages are
// still answered before WhatsApp disconnects.
func (s *Server) Close() error {
	s.transport.OnMessage(nil)
	if s.dispatcher != nil {
		s.dispatcher.Close()
	}
	s.reaper.Stop()

	var errs []error
	if s.portal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := s.portal.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("portal shutdown: %w", err))
		}
		cancel()
	}
	s.transport.Disconnect()
	if err := s.boot.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database close: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Server) enqueue(ctx context.Context, in *whatsapp.Inbound) {
	err := s.dispatcher.Enqueue(ctx, handlerName, func(jobCtx context.Context) error {
		return s.handle(jobCtx, in)
	})
	if err == nil {
		return
	}
	ctx = logger.WithMessageMeta(ctx, in.Phone, in.ID)
	logger.Warn(ctx, "wa.dispatch", "message.dropped",
		slog.String("status", "skip"),
		slog.String("err", err.Error()),
		slog.Int("queue_len", s.dispatcher.QueueLen()),
	)
}

func (s *Server) respond(ctx context.Context, in *whatsapp.Inbound) error {
	outcome, err := s.router.Handle(ctx, responder.Message{
		From:      in.From,
		Body:      in.Body,
		ID:        in.ID,
		PushName:  in.PushName,
		Timestamp: in.Timestamp,
		ReplyTo:   in.ReplyTo,
	})
	middleware.RecordOutcome(ctx, string(outcome))
	return err
}

func (s *Server) transportHealthy(context.Context) error {
	if s.transport.Pairing().Paired() && !s.transport.Connected() {
		return whatsapp.ErrNotConnected
	}
	return nil
}

// Task is a one-shot command sharing the server's bootstrap.
type Task struct {
	boot *bootstrap.Result
	run  func(ctx context.Context) error
}

// Run executes the task once.
func (t *Task) Run(ctx context.Context) error {
	if t.run == nil {
		return nil
	}
	return t.run(ctx)
}

// Close releases the database pool.
func (t *Task) Close() error {
	return t.boot.Close()
}

// NewMigrate applies migrations (and the seed fixture, when configured).
func NewMigrate(ctx context.Context, cfg *Config) (*Task, error) {
	boot, err := bootstrap.Run(ctx, bootstrapOptions(cfg, nil))
	if err != nil {
		return nil, err
	}
	return &Task{boot: boot}, nil
}

// NewSeed migrates and loads the fixture at path into an empty database.
func NewSeed(ctx context.Context, cfg *Config, path string) (*Task, error) {
	if path != "" {
		cfg.SeedFile = path
	}
	if cfg.SeedFile == "" {
		return nil, errors.New("app: no seed file given")
	}
	return NewMigrate(ctx, cfg)
}

// NewReap runs a single reaper sweep against an already migrated database.
func NewReap(ctx context.Context, cfg *Config) (*Task, error) {
	boot, err := bootstrap.Run(ctx, bootstrap.Options{
		Config:         &cfg.Config,
		Database:       cfg.Database,
		SkipMigrations: true,
		Connect:        connectWhenReady,
	})
	if err != nil {
		return nil, err
	}
	r := reaper.New(store.New(boot.DB))
	return &Task{boot: boot, run: func(ctx context.Context) error {
		_, err := r.RunOnce(ctx)
		return err
	}}, nil
}
