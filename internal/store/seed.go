package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	"gopkg.in/yaml.v3"

	"github.com/m3rciful/wabot/core/database"
)

// Fixture is reference data for an empty database: chatbots, their flows
// and the welcome settings.
type Fixture struct {
	Chatbots []FixtureChatbot `yaml:"chatbots"`
	Flows    []FixtureFlow    `yaml:"flows"`
	Welcome  FixtureWelcome   `yaml:"welcome"`
}

type FixtureChatbot struct {
	ID     int64        `yaml:"id"`
	Estado ChatbotState `yaml:"estado"`
}

type FixtureFlow struct {
	Keyword   string `yaml:"keyword"`
	Answer    string `yaml:"answer"`
	MediaURL  string `yaml:"media_url"`
	ChatbotID int64  `yaml:"chatbot"`
}

type FixtureWelcome struct {
	Reply        string `yaml:"reply"`
	DefaultReply string `yaml:"default_reply"`
	SessionHours int    `yaml:"session_hours"`
}

// LoadFixture reads a YAML fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *Fixture) validate() error {
	known := make(map[int64]bool, len(f.Chatbots))
	for _, c := range f.Chatbots {
		if c.ID <= 0 {
			return fmt.Errorf("fixture: chatbot id must be positive, got %d", c.ID)
		}
		if known[c.ID] {
			return fmt.Errorf("fixture: duplicate chatbot id %d", c.ID)
		}
		known[c.ID] = true
	}
	for i, fl := range f.Flows {
		if strings.TrimSpace(fl.Keyword) == "" {
			return fmt.Errorf("fixture: flow %d has no keyword", i)
		}
		if !known[fl.ChatbotID] {
			return fmt.Errorf("fixture: flow %q references unknown chatbot %d", fl.Keyword, fl.ChatbotID)
		}
	}
	return nil
}

// Seed loads f into an empty database. It reports false without writing
// anything when chatbots already exist.
func (s *Store) Seed(ctx context.Context, f *Fixture) (bool, error) {
	if f == nil {
		return false, nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("seed: begin: %w", err)
	}
	defer tx.Rollback()

	var existing int
	if err := tx.GetContext(ctx, &existing, `SELECT COUNT(*) FROM chatbots`); err != nil {
		return false, fmt.Errorf("seed: count chatbots: %w", err)
	}
	if existing > 0 {
		return false, nil
	}

	if err := s.seedRows(ctx, tx, f); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("seed: commit: %w", err)
	}
	return true, nil
}

func (s *Store) seedRows(ctx context.Context, tx *sqlx.Tx, f *Fixture) error {
	for _, c := range f.Chatbots {
		state := c.Estado
		if strings.TrimSpace(string(state)) == "" {
			state = StateActive
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO chatbots (id, estado) VALUES (?, ?)`), c.ID, string(state)); err != nil {
			return fmt.Errorf("seed: chatbot %d: %w", c.ID, err)
		}
	}
	if s.driver == database.DriverPostgres && len(f.Chatbots) > 0 {
		if _, err := tx.ExecContext(ctx, `SELECT setval(pg_get_serial_sequence('chatbots', 'id'), (SELECT MAX(id) FROM chatbots))`); err != nil {
			return fmt.Errorf("seed: chatbot sequence: %w", err)
		}
	}

	for _, fl := range f.Flows {
		media := sql.NullString{String: strings.TrimSpace(fl.MediaURL), Valid: strings.TrimSpace(fl.MediaURL) != ""}
		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`INSERT INTO flows (keyword, answer, media_url, chatbots_id) VALUES (?, ?, ?, ?)`),
			fl.Keyword, fl.Answer, media, fl.ChatbotID); err != nil {
			return fmt.Errorf("seed: flow %q: %w", fl.Keyword, err)
		}
	}

	w := f.Welcome
	if w.Reply != "" || w.DefaultReply != "" {
		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`INSERT INTO welcomes (welcomereply, defaultreply) VALUES (?, ?)`),
			nullString(w.Reply), nullString(w.DefaultReply)); err != nil {
			return fmt.Errorf("seed: welcomes: %w", err)
		}
	}
	if w.SessionHours > 0 {
		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`INSERT INTO welcome (session_duration) VALUES (?)`), w.SessionHours); err != nil {
			return fmt.Errorf("seed: welcome: %w", err)
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
