// Package store reads and writes the responder tables: chatbots, flows,
// welcome settings, per-number session flags and conversation activity.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/wabot/core/database"
)

// ErrSessionDurationUnset is returned when welcome.session_duration has no usable value.
var ErrSessionDurationUnset = errors.New("session duration is not configured")

// Store is the SQL gateway. Every call borrows one pooled connection for
// its duration and always returns it.
type Store struct {
	db             *sqlx.DB
	driver         string
	primaryChatbot int64
}

// Option customizes a Store.
type Option func(*Store)

// WithPrimaryChatbot pins the chatbot assigned to new conversations.
// Zero means "lowest chatbot id".
func WithPrimaryChatbot(id int64) Option {
	return func(s *Store) { s.primaryChatbot = id }
}

// New wraps an open pool. The SQL dialect follows the pool's driver name.
func New(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{db: db, driver: db.DriverName()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// withConn runs fn on a dedicated connection and releases it afterwards.
func (s *Store) withConn(ctx context.Context, fn func(conn *sqlx.Conn) error) error {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()
	return fn(conn)
}

func (s *Store) isMySQL() bool {
	return s.driver == database.DriverMySQL
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id > 0}
}
