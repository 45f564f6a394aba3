package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// ChatbotState is the activation state stored in chatbots.estado.
type ChatbotState string

const (
	StateActive   ChatbotState = "activo"
	StateInactive ChatbotState = "inactivo"
)

// Active reports whether the chatbot may send default replies.
func (s ChatbotState) Active() bool { return s.normalized() == StateActive }

// Inactive reports whether the chatbot is switched off for its own flows.
func (s ChatbotState) Inactive() bool { return s.normalized() == StateInactive }

func (s ChatbotState) normalized() ChatbotState {
	return ChatbotState(strings.ToLower(strings.TrimSpace(string(s))))
}

// Flow maps a keyword to a reply owned by one chatbot.
type Flow struct {
	ID        int64  `db:"id"`
	Keyword   string `db:"keyword"`
	Answer    string `db:"answer"`
	MediaURL  string `db:"media_url"`
	ChatbotID int64  `db:"chatbots_id"`
}

// HasMedia reports whether the reply carries an attachment.
func (f Flow) HasMedia() bool { return strings.TrimSpace(f.MediaURL) != "" }

// Flows whose chatbot row is missing are dropped by the inner join.
// Lowest chatbot id wins keyword collisions, then the earliest flow.
const listFlowsQuery = `SELECT f.id, f.keyword, f.answer, COALESCE(f.media_url, '') AS media_url, f.chatbots_id
FROM flows f
JOIN chatbots c ON f.chatbots_id = c.id
ORDER BY c.id, f.id`

// ListFlows loads every flow that belongs to an existing chatbot.
func (s *Store) ListFlows(ctx context.Context) ([]Flow, error) {
	var flows []Flow
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		return conn.SelectContext(ctx, &flows, listFlowsQuery)
	})
	if err != nil {
		return nil, fmt.Errorf("load flows: %w", err)
	}
	return flows, nil
}
