package postgres

import (
	"context"
	"fmt"

	"github.com/engramhq/engram/internal/domain/memory"
)

// ListRecentMessages returns the newest limit messages of a session,
// newest first. Callers reverse to get transcript order.
func (s *Store) ListRecentMessages(ctx context.Context, sessionID string, limit int) ([]memory.Message, error) {
	query := `
		SELECT role, content, created_at
		FROM session_messages
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []memory.Message
	for rows.Next() {
		var m memory.Message
		if err := rows.Scan(&m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
