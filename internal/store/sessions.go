package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	claimWelcomeUpsert = `INSERT INTO closesessions (phone_number, received_welcome, chatbots_id)
VALUES (?, TRUE, ?)
ON CONFLICT (phone_number) DO UPDATE
SET received_welcome = TRUE,
    chatbots_id = COALESCE(closesessions.chatbots_id, excluded.chatbots_id)
WHERE closesessions.received_welcome = FALSE`

	// Assignments run left to right, so chatbots_id still sees the old flag.
	// Affected rows: 1 inserted, 2 changed, 0 already welcomed. The 0 relies
	// on clientFoundRows being off in the DSN (core/database mysqlConfig).
	claimWelcomeMySQL = `INSERT INTO closesessions (phone_number, received_welcome, chatbots_id)
VALUES (?, TRUE, ?)
ON DUPLICATE KEY UPDATE
    chatbots_id = IF(received_welcome, chatbots_id, COALESCE(chatbots_id, VALUES(chatbots_id))),
    received_welcome = TRUE`

	markWelcomeUpsert = `INSERT INTO closesessions (phone_number, received_welcome)
VALUES (?, TRUE)
ON CONFLICT (phone_number) DO UPDATE SET received_welcome = TRUE`

	markWelcomeMySQL = `INSERT INTO closesessions (phone_number, received_welcome)
VALUES (?, TRUE)
ON DUPLICATE KEY UPDATE received_welcome = TRUE`

	touchConversationUpsert = `INSERT INTO conversations (phone_number, last_interaction)
VALUES (?, ?)
ON CONFLICT (phone_number) DO UPDATE SET last_interaction = excluded.last_interaction`

	touchConversationMySQL = `INSERT INTO conversations (phone_number, last_interaction)
VALUES (?, ?)
ON DUPLICATE KEY UPDATE last_interaction = VALUES(last_interaction)`
)

// HasReceivedWelcome reports whether phone already got the welcome message.
// A missing record means "not welcomed".
func (s *Store) HasReceivedWelcome(ctx context.Context, phone string) (bool, error) {
	var received bool
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		return conn.GetContext(ctx, &received,
			conn.Rebind(`SELECT received_welcome FROM closesessions WHERE phone_number = ?`), phone)
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("load welcome flag: %w", err)
	}
	return received, nil
}

// MarkWelcomeSent sets the welcome flag for phone, creating the record if needed.
func (s *Store) MarkWelcomeSent(ctx context.Context, phone string) error {
	query := markWelcomeUpsert
	if s.isMySQL() {
		query = markWelcomeMySQL
	}
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		_, err := conn.ExecContext(ctx, conn.Rebind(query), phone)
		return err
	})
	if err != nil {
		return fmt.Errorf("mark welcome sent: %w", err)
	}
	return nil
}

// ClaimWelcome atomically moves phone from NEW to WELCOMED. It returns true
// only for the single caller that performed the transition; chatbotID is
// recorded as the conversation's chatbot when positive.
func (s *Store) ClaimWelcome(ctx context.Context, phone string, chatbotID int64) (bool, error) {
	query := claimWelcomeUpsert
	if s.isMySQL() {
		query = claimWelcomeMySQL
	}
	var affected int64
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		res, err := conn.ExecContext(ctx, conn.Rebind(query), phone, nullID(chatbotID))
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("claim welcome: %w", err)
	}
	return affected > 0, nil
}

// SessionChatbot returns the chatbot recorded for phone at first contact.
func (s *Store) SessionChatbot(ctx context.Context, phone string) (int64, bool, error) {
	var id sql.NullInt64
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		return conn.GetContext(ctx, &id,
			conn.Rebind(`SELECT chatbots_id FROM closesessions WHERE phone_number = ?`), phone)
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("load session chatbot: %w", err)
	}
	return id.Int64, id.Valid, nil
}

// TouchConversation records at as the latest interaction of phone.
func (s *Store) TouchConversation(ctx context.Context, phone string, at time.Time) error {
	query := touchConversationUpsert
	if s.isMySQL() {
		query = touchConversationMySQL
	}
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		_, err := conn.ExecContext(ctx, conn.Rebind(query), phone, at.UTC())
		return err
	})
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// PurgeConversations deletes conversations idle since before cutoff and
// returns how many were removed.
func (s *Store) PurgeConversations(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		res, err := conn.ExecContext(ctx,
			conn.Rebind(`DELETE FROM conversations WHERE last_interaction < ?`), cutoff.UTC())
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("purge conversations: %w", err)
	}
	return deleted, nil
}
