package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
)

const sessionColumns = `id, worktree_id, name, sort_key, created_at, agent, model,
	execution_mode, thinking, archived_at, waiting_for_input, answered_ids`

// CreateSession inserts a session. When no sort key is set it is
// appended after the worktree's current maximum.
func (s *Store) CreateSession(sess *entity.Session) error {
	if sess.SortKey == 0 {
		var max sql.NullInt64
		err := s.db.QueryRow(
			`SELECT MAX(sort_key) FROM sessions WHERE worktree_id = ?`, sess.WorktreeID,
		).Scan(&max)
		if err != nil {
			return err
		}
		if max.Valid {
			sess.SortKey = int(max.Int64) + 1
		}
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}

	var answered *string
	if len(sess.AnsweredIDs) > 0 {
		data, _ := json.Marshal(sess.AnsweredIDs)
		str := string(data)
		answered = &str
	}

	query := `
		INSERT INTO sessions (id, worktree_id, name, sort_key, created_at, agent, model,
			execution_mode, thinking, archived_at, waiting_for_input, answered_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		sess.ID, sess.WorktreeID, sess.Name, sess.SortKey, sess.CreatedAt,
		string(sess.Agent), nullString(sess.Model), nullString(sess.ExecutionMode),
		nullString(string(sess.Thinking)), sess.ArchivedAt, sess.WaitingForInput, answered,
	)
	return err
}

// GetSession retrieves a session by ID, messages included.
func (s *Store) GetSession(id string) (*entity.Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err != nil || sess == nil {
		return sess, err
	}

	sess.Messages, err = s.ListMessages(id)
	return sess, err
}

// ListSessions retrieves a worktree's non-archived sessions in order,
// without message bodies.
func (s *Store) ListSessions(worktreeID string) ([]*entity.Session, error) {
	rows, err := s.db.Query(`
		SELECT `+sessionColumns+` FROM sessions
		WHERE worktree_id = ? AND archived_at IS NULL
		ORDER BY sort_key, created_at
	`, worktreeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ListArchivedSessions retrieves the global archived-session collection
// with denormalized worktree and project provenance, most recent first.
func (s *Store) ListArchivedSessions() ([]*entity.ArchivedSession, error) {
	rows, err := s.db.Query(`
		SELECT s.id, s.worktree_id, s.name, s.sort_key, s.created_at, s.agent, s.model,
		       s.execution_mode, s.thinking, s.archived_at, s.waiting_for_input, s.answered_ids,
		       w.name, w.path, w.project_id, p.name
		FROM sessions s
		JOIN worktrees w ON w.id = s.worktree_id
		JOIN projects p ON p.id = w.project_id
		WHERE s.archived_at IS NOT NULL
		ORDER BY s.archived_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var archived []*entity.ArchivedSession
	for rows.Next() {
		sess, extras, err := scanSessionRow(rows, 4)
		if err != nil {
			return nil, err
		}
		if sess.ArchivedAt == nil {
			continue
		}
		archived = append(archived, &entity.ArchivedSession{
			Session:      sess,
			ArchivedAt:   *sess.ArchivedAt,
			WorktreeID:   sess.WorktreeID,
			WorktreeName: extras[0],
			WorktreePath: extras[1],
			ProjectID:    extras[2],
			ProjectName:  extras[3],
		})
	}
	return archived, rows.Err()
}

// RestoreSession clears a session's archive stamp and re-attaches it to
// the given worktree (the original, or a project base worktree when the
// original is gone).
func (s *Store) RestoreSession(sessionID, worktreeID string) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET archived_at = NULL, worktree_id = ? WHERE id = ?`,
		worktreeID, sessionID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("session %s not found", sessionID)
	}
	return err
}

// UpdateSessionSetting changes one execution setting. Field names are
// whitelisted; anything else is rejected.
func (s *Store) UpdateSessionSetting(id, field, value string) error {
	var column string
	switch field {
	case "model":
		column = "model"
	case "execution_mode":
		column = "execution_mode"
	case "thinking":
		column = "thinking"
	default:
		return fmt.Errorf("unknown setting field: %s", field)
	}
	_, err := s.db.Exec(`UPDATE sessions SET `+column+` = ? WHERE id = ?`, value, id)
	return err
}

// SetSessionWaiting flips the waiting-for-input suspension flag.
func (s *Store) SetSessionWaiting(id string, waiting bool) error {
	_, err := s.db.Exec(`UPDATE sessions SET waiting_for_input = ? WHERE id = ?`, waiting, id)
	return err
}

// AddAnsweredQuestion records an answered question id. Idempotent.
func (s *Store) AddAnsweredQuestion(id, questionID string) error {
	sess, err := s.GetSession(id)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("session %s not found", id)
	}
	if sess.Answered(questionID) {
		return nil
	}
	data, _ := json.Marshal(append(sess.AnsweredIDs, questionID))
	_, err = s.db.Exec(`UPDATE sessions SET answered_ids = ? WHERE id = ?`, string(data), id)
	return err
}

// GetAgentSessionID returns the agent-side conversation id used to
// resume a CLI session, or "" when the session never ran.
func (s *Store) GetAgentSessionID(id string) (string, error) {
	var agentSessionID sql.NullString
	err := s.db.QueryRow(`SELECT agent_session_id FROM sessions WHERE id = ?`, id).Scan(&agentSessionID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return agentSessionID.String, err
}

// SetAgentSessionID records the agent-side conversation id after the
// first successful run.
func (s *Store) SetAgentSessionID(id, agentSessionID string) error {
	_, err := s.db.Exec(`UPDATE sessions SET agent_session_id = ? WHERE id = ?`, agentSessionID, id)
	return err
}

func scanSession(row *sql.Row) (*entity.Session, error) {
	var sess entity.Session
	var agent string
	var model, mode, thinking, answered sql.NullString
	var archivedAt sql.NullTime
	err := row.Scan(
		&sess.ID, &sess.WorktreeID, &sess.Name, &sess.SortKey, &sess.CreatedAt,
		&agent, &model, &mode, &thinking, &archivedAt, &sess.WaitingForInput, &answered,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	fillSession(&sess, agent, model, mode, thinking, answered, archivedAt)
	return &sess, nil
}

func scanSessions(rows *sql.Rows) ([]*entity.Session, error) {
	var sessions []*entity.Session
	for rows.Next() {
		sess, _, err := scanSessionRow(rows, 0)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// scanSessionRow scans the session columns plus extra trailing string
// columns (for denormalized joins).
func scanSessionRow(rows *sql.Rows, extraCount int) (*entity.Session, []string, error) {
	var sess entity.Session
	var agent string
	var model, mode, thinking, answered sql.NullString
	var archivedAt sql.NullTime

	extras := make([]string, extraCount)
	dest := []interface{}{
		&sess.ID, &sess.WorktreeID, &sess.Name, &sess.SortKey, &sess.CreatedAt,
		&agent, &model, &mode, &thinking, &archivedAt, &sess.WaitingForInput, &answered,
	}
	for i := range extras {
		dest = append(dest, &extras[i])
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, nil, err
	}
	fillSession(&sess, agent, model, mode, thinking, answered, archivedAt)
	return &sess, extras, nil
}

func fillSession(sess *entity.Session, agent string, model, mode, thinking, answered sql.NullString, archivedAt sql.NullTime) {
	sess.Agent = entity.AgentKind(agent)
	sess.Model = model.String
	sess.ExecutionMode = mode.String
	sess.Thinking = entity.ThinkingLevel(thinking.String)
	if archivedAt.Valid {
		sess.ArchivedAt = &archivedAt.Time
	}
	if answered.Valid && answered.String != "" {
		json.Unmarshal([]byte(answered.String), &sess.AnsweredIDs)
	}
}
