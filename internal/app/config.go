package app

import (
	"fmt"
	"strings"

	coreconfig "github.com/m3rciful/wabot/core/config"
	coredatabase "github.com/m3rciful/wabot/core/database"
	"github.com/m3rciful/wabot/core/whatsapp/dispatch"
	"github.com/m3rciful/wabot/internal/reaper"
)

// DefaultConfigPath is read when CONFIG_PATH is unset; it may be absent.
const DefaultConfigPath = "config.yaml"

// ReaperConfig controls the conversation cleanup job.
type ReaperConfig struct {
	Schedule string `yaml:"schedule" envconfig:"REAPER_SCHEDULE"`
	Disabled bool   `yaml:"disabled" envconfig:"REAPER_DISABLED"`
}

// ResponderConfig controls message handling.
type ResponderConfig struct {
	// ChatbotID is assigned to new conversations; 0 picks the lowest id.
	ChatbotID int64 `yaml:"chatbot_id" envconfig:"RESPONDER_CHATBOT_ID"`
	Workers   int   `yaml:"workers" envconfig:"RESPONDER_WORKERS"`
	QueueSize int   `yaml:"queue_size" envconfig:"RESPONDER_QUEUE_SIZE"`
	// TrackConversations defaults to true when unset.
	TrackConversations *bool `yaml:"track_conversations" envconfig:"RESPONDER_TRACK_CONVERSATIONS"`
}

// Tracking reports the effective conversation tracking flag.
func (r ResponderConfig) Tracking() bool {
	return r.TrackConversations == nil || *r.TrackConversations
}

// Config is the full application configuration.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database  coredatabase.Config `yaml:"database"`
	Reaper    ReaperConfig        `yaml:"reaper"`
	Responder ResponderConfig     `yaml:"responder"`
	// SeedFile is a fixture loaded into an empty database at startup.
	SeedFile string `yaml:"seed_file" envconfig:"DB_SEED_FILE"`
}

// CoreConfig exposes the embedded core configuration.
func (c *Config) CoreConfig() *coreconfig.Config {
	return &c.Config
}

// LoadConfig reads YAML and environment overrides, then normalizes.
func LoadConfig(path string, allowMissing bool) (*Config, error) {
	var cfg Config
	if err := coreconfig.Decode(path, allowMissing, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize applies defaults and validates every section.
func (c *Config) Normalize() error {
	if err := coreconfig.Normalize(&c.Config); err != nil {
		return err
	}
	if err := c.Database.Normalize(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	c.Reaper.Schedule = strings.TrimSpace(c.Reaper.Schedule)
	if c.Reaper.Schedule == "" {
		c.Reaper.Schedule = reaper.DefaultSchedule
	}

	if c.Responder.ChatbotID < 0 {
		return fmt.Errorf("responder.chatbot_id must not be negative")
	}
	if c.Responder.Workers <= 0 {
		c.Responder.Workers = dispatch.DefaultWorkers
	}
	if c.Responder.QueueSize <= 0 {
		c.Responder.QueueSize = dispatch.DefaultQueueSize
	}
	c.SeedFile = strings.TrimSpace(c.SeedFile)
	return nil
}
