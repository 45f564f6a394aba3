package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// WhatsAppConfig holds settings of the WhatsApp transport.
type WhatsAppConfig struct {
	// SessionDB is the SQLite file keeping the paired device keys.
	SessionDB  string `yaml:"session_db" envconfig:"WA_SESSION_DB"`
	DeviceName string `yaml:"device_name" envconfig:"WA_DEVICE_NAME"`
	// PairTerminal prints the pairing QR code to stdout.
	PairTerminal    bool `yaml:"pair_terminal" envconfig:"WA_PAIR_TERMINAL"`
	RespondToGroups bool `yaml:"respond_to_groups" envconfig:"WA_RESPOND_TO_GROUPS"`
}

// PortalConfig specifies the pairing portal listener.
type PortalConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"PORTAL_ENABLED"`
	Listen  string `yaml:"listen" envconfig:"PORTAL_LISTEN"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir" envconfig:"LOG_DIR"`
	File        string `yaml:"file" envconfig:"LOG_FILE"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

const (
	// DefaultSessionDB is the device store used when none is configured.
	DefaultSessionDB = "whatsapp.db"
	// DefaultDeviceName is shown in the phone's linked devices list.
	DefaultDeviceName = "wabot"
	// DefaultPortalListen is where the pairing portal listens by default.
	DefaultPortalListen = ":3000"
)

// Config aggregates the configuration that belongs to the reusable core.
type Config struct {
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Portal   PortalConfig   `yaml:"portal"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoadEnvFiles loads .env style files into the process environment.
// Missing files are ignored; variables already set win.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Decode reads a YAML file into dst and overlays environment variables.
// When allowMissing is set a non-existent file is treated as empty.
func Decode(path string, allowMissing bool, dst any) error {
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, dst); err != nil {
				return fmt.Errorf("failed to parse YAML config: %w", err)
			}
		case allowMissing && errors.Is(err, fs.ErrNotExist):
		default:
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	if err := envconfig.Process("", dst); err != nil {
		return fmt.Errorf("failed to process env: %w", err)
	}
	return nil
}

// Load reads core configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := Decode(path, false, &cfg); err != nil {
		return nil, err
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	cfg.WhatsApp.SessionDB = strings.TrimSpace(cfg.WhatsApp.SessionDB)
	if cfg.WhatsApp.SessionDB == "" {
		cfg.WhatsApp.SessionDB = DefaultSessionDB
	}
	cfg.WhatsApp.DeviceName = strings.TrimSpace(cfg.WhatsApp.DeviceName)
	if cfg.WhatsApp.DeviceName == "" {
		cfg.WhatsApp.DeviceName = DefaultDeviceName
	}

	cfg.Portal.Listen = strings.TrimSpace(cfg.Portal.Listen)
	if cfg.Portal.Enabled && cfg.Portal.Listen == "" {
		cfg.Portal.Listen = DefaultPortalListen
	}
	// Somebody has to see the QR code.
	if !cfg.Portal.Enabled {
		cfg.WhatsApp.PairTerminal = true
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "", "json", "kv", "text", "pretty":
	default:
		return fmt.Errorf("invalid logging.format %q; allowed: json, kv", cfg.Logging.Format)
	}
	return nil
}
