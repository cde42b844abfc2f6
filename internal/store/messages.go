package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
)

// CreateMessage inserts a message. Blocks and tool calls are stored as
// JSON columns.
func (s *Store) CreateMessage(msg *entity.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var blocks, toolCalls *string
	if len(msg.Blocks) > 0 {
		data, _ := json.Marshal(msg.Blocks)
		str := string(data)
		blocks = &str
	}
	if len(msg.ToolCalls) > 0 {
		data, _ := json.Marshal(msg.ToolCalls)
		str := string(data)
		toolCalls = &str
	}

	query := `
		INSERT INTO messages (id, session_id, role, content, blocks, tool_calls,
			created_at, cancelled, stream_error, plan_approved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, blocks, toolCalls,
		msg.CreatedAt, msg.Cancelled, nullString(msg.StreamError), msg.PlanApproved,
	)
	return err
}

// ListMessages retrieves a session's messages in chronological order.
func (s *Store) ListMessages(sessionID string) ([]*entity.Message, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, role, content, blocks, tool_calls,
		       created_at, cancelled, stream_error, plan_approved
		FROM messages
		WHERE session_id = ?
		ORDER BY created_at, id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*entity.Message
	for rows.Next() {
		var msg entity.Message
		var role string
		var blocks, toolCalls, streamError sql.NullString
		var planApproved sql.NullTime

		err := rows.Scan(
			&msg.ID, &msg.SessionID, &role, &msg.Content, &blocks, &toolCalls,
			&msg.CreatedAt, &msg.Cancelled, &streamError, &planApproved,
		)
		if err != nil {
			return nil, err
		}

		msg.Role = entity.Role(role)
		msg.StreamError = streamError.String
		if blocks.Valid {
			json.Unmarshal([]byte(blocks.String), &msg.Blocks)
		}
		if toolCalls.Valid {
			json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls)
		}
		if planApproved.Valid {
			msg.PlanApproved = &planApproved.Time
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// DeleteMessage removes a message. Used to withdraw an optimistic user
// message when its run is cancelled before producing any output.
func (s *Store) DeleteMessage(id string) error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	return err
}

// ApprovePlan stamps a plan message as approved.
func (s *Store) ApprovePlan(messageID string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE messages SET plan_approved = ? WHERE id = ?`, at, messageID)
	return err
}

// CountMessages returns the number of messages in a session.
func (s *Store) CountMessages(sessionID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&count)
	return count, err
}
