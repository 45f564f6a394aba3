package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	coreconfig "github.com/m3rciful/wabot/core/config"
	"github.com/m3rciful/wabot/core/logger"
)

// ConfigCarrier exposes access to the embedded core configuration.
type ConfigCarrier interface {
	CoreConfig() *coreconfig.Config
}

// App is a bootstrapped application that runs until ctx is done.
type App interface {
	Run(ctx context.Context) error
	Close() error
}

// Options describe how to load configuration, bootstrap the app, and run it.
type Options struct {
	ConfigEnvVar      string
	DefaultConfigPath string
	// ConfigPath overrides both the env var and the default, e.g. from a flag.
	ConfigPath string
	EnvFiles   []string

	LoadConfig func(path string, allowMissing bool) (ConfigCarrier, error)
	Bootstrap  func(ctx context.Context, cfg ConfigCarrier) (App, error)

	ShutdownLogger func() error
}

// ResolveConfigPath picks the config file and reports whether it may be absent.
// Only the implicit default is optional.
func ResolveConfigPath(opts Options) (string, bool) {
	if opts.ConfigPath != "" {
		return opts.ConfigPath, false
	}
	env := opts.ConfigEnvVar
	if env == "" {
		env = "CONFIG_PATH"
	}
	if p := os.Getenv(env); p != "" {
		return p, false
	}
	return opts.DefaultConfigPath, true
}

// Run loads configuration, bootstraps the app and runs it until SIGINT or SIGTERM.
func Run(parent context.Context, opts Options) error {
	if opts.LoadConfig == nil {
		return fmt.Errorf("cmd: LoadConfig is required")
	}
	if opts.Bootstrap == nil {
		return fmt.Errorf("cmd: Bootstrap is required")
	}
	if parent == nil {
		parent = context.Background()
	}

	if err := coreconfig.LoadEnvFiles(opts.EnvFiles...); err != nil {
		return fmt.Errorf("cmd: %w", err)
	}

	cfgPath, allowMissing := ResolveConfigPath(opts)
	log.Printf("loading config: %s", cfgPath)
	cfg, err := opts.LoadConfig(cfgPath, allowMissing)
	if err != nil {
		return fmt.Errorf("cmd: failed to load config: %w", err)
	}
	if cfg.CoreConfig() == nil {
		return fmt.Errorf("cmd: loaded config is missing core configuration")
	}

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startedAt := time.Now()
	application, err := opts.Bootstrap(ctx, cfg)

	shutdownLogger := opts.ShutdownLogger
	if shutdownLogger == nil {
		shutdownLogger = logger.Shutdown
	}
	defer func() {
		if err := shutdownLogger(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()

	if err != nil {
		return fmt.Errorf("cmd: bootstrap failed: %w", err)
	}

	appLog := logger.Component("app")
	appLog.Info("app ready",
		slog.String("event", "ready"),
		slog.Duration("startup_duration", logger.RoundMS(time.Since(startedAt))),
	)

	runErr := application.Run(ctx)

	appLog.Info("shutting down...", slog.String("event", "shutdown"))
	closeErr := application.Close()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return closeErr
}
