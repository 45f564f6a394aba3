package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/wabot/core/logger"
)

// ChatbotState returns the estado of chatbot id. Unknown chatbots are inactive.
func (s *Store) ChatbotState(ctx context.Context, id int64) (ChatbotState, error) {
	var estado string
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		return conn.GetContext(ctx, &estado, conn.Rebind(`SELECT estado FROM chatbots WHERE id = ?`), id)
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return StateInactive, nil
	case err != nil:
		return "", fmt.Errorf("load chatbot state: %w", err)
	}
	return ChatbotState(estado), nil
}

// PrimaryChatbot returns the chatbot assigned to new conversations: the
// configured one when it exists, else the lowest id. ok is false when no
// chatbot exists.
func (s *Store) PrimaryChatbot(ctx context.Context) (int64, bool, error) {
	var id int64
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		if s.primaryChatbot > 0 {
			err := conn.GetContext(ctx, &id, conn.Rebind(`SELECT id FROM chatbots WHERE id = ?`), s.primaryChatbot)
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			logger.DB.Warn("configured chatbot missing",
				slog.String("event", "chatbot.missing"),
				slog.String("status", "skip"),
				slog.Int64("chatbot_id", s.primaryChatbot),
			)
		}
		return conn.GetContext(ctx, &id, `SELECT id FROM chatbots ORDER BY id LIMIT 1`)
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("load primary chatbot: %w", err)
	}
	return id, true, nil
}

// WelcomeMessage returns the trimmed welcome text, or "" when unset.
func (s *Store) WelcomeMessage(ctx context.Context) (string, error) {
	msg, err := s.firstText(ctx, `SELECT welcomereply FROM welcomes ORDER BY id LIMIT 1`)
	if err != nil {
		return "", fmt.Errorf("load welcome message: %w", err)
	}
	return msg, nil
}

// DefaultReply returns the trimmed fallback reply, or "" when unset.
func (s *Store) DefaultReply(ctx context.Context) (string, error) {
	msg, err := s.firstText(ctx, `SELECT defaultreply FROM welcomes ORDER BY id LIMIT 1`)
	if err != nil {
		return "", fmt.Errorf("load default reply: %w", err)
	}
	return msg, nil
}

func (s *Store) firstText(ctx context.Context, query string) (string, error) {
	var text sql.NullString
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		return conn.GetContext(ctx, &text, query)
	})
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	return strings.TrimSpace(text.String), nil
}

// SessionDuration returns the conversation retention window configured in
// welcome.session_duration (hours).
func (s *Store) SessionDuration(ctx context.Context) (time.Duration, error) {
	var hours sql.NullInt64
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		return conn.GetContext(ctx, &hours, `SELECT session_duration FROM welcome ORDER BY id LIMIT 1`)
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, ErrSessionDurationUnset
	case err != nil:
		return 0, fmt.Errorf("load session duration: %w", err)
	case !hours.Valid || hours.Int64 <= 0:
		return 0, ErrSessionDurationUnset
	}
	return time.Duration(hours.Int64) * time.Hour, nil
}
