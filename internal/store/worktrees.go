package store

import (
	"database/sql"
	"time"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
)

const worktreeColumns = `id, project_id, name, path, branch, kind, sort_key, created_at, archived_at`

// CreateWorktree inserts a worktree. When no sort key is set it is
// appended after the project's current maximum.
func (s *Store) CreateWorktree(wt *entity.Worktree) error {
	if wt.SortKey == 0 {
		var max sql.NullInt64
		err := s.db.QueryRow(
			`SELECT MAX(sort_key) FROM worktrees WHERE project_id = ?`, wt.ProjectID,
		).Scan(&max)
		if err != nil {
			return err
		}
		if max.Valid {
			wt.SortKey = int(max.Int64) + 1
		}
	}
	if wt.CreatedAt.IsZero() {
		wt.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO worktrees (id, project_id, name, path, branch, kind, sort_key, created_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		wt.ID, wt.ProjectID, wt.Name, wt.Path, wt.Branch,
		string(wt.Kind), wt.SortKey, wt.CreatedAt, wt.ArchivedAt,
	)
	return err
}

// GetWorktree retrieves a worktree by ID (archived or not).
func (s *Store) GetWorktree(id string) (*entity.Worktree, error) {
	row := s.db.QueryRow(`SELECT `+worktreeColumns+` FROM worktrees WHERE id = ?`, id)
	return scanWorktree(row)
}

// GetActiveWorktreeByPath finds the non-archived worktree occupying a
// path, used for creation conflict detection.
func (s *Store) GetActiveWorktreeByPath(path string) (*entity.Worktree, error) {
	row := s.db.QueryRow(`
		SELECT `+worktreeColumns+` FROM worktrees
		WHERE path = ? AND archived_at IS NULL
	`, path)
	return scanWorktree(row)
}

// GetArchivedWorktreeByPath finds the most recently archived worktree
// that previously occupied a path.
func (s *Store) GetArchivedWorktreeByPath(path string) (*entity.Worktree, error) {
	row := s.db.QueryRow(`
		SELECT `+worktreeColumns+` FROM worktrees
		WHERE path = ? AND archived_at IS NOT NULL
		ORDER BY archived_at DESC LIMIT 1
	`, path)
	return scanWorktree(row)
}

// ListWorktrees retrieves non-archived worktrees, optionally scoped to a
// project, base worktree first.
func (s *Store) ListWorktrees(projectID string) ([]*entity.Worktree, error) {
	query := `
		SELECT ` + worktreeColumns + ` FROM worktrees
		WHERE archived_at IS NULL
	`
	var args []interface{}
	if projectID != "" {
		query += ` AND project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY kind = 'base' DESC, sort_key, name`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWorktrees(rows)
}

// GetBaseWorktree returns the project's non-archived base worktree, or nil.
func (s *Store) GetBaseWorktree(projectID string) (*entity.Worktree, error) {
	row := s.db.QueryRow(`
		SELECT `+worktreeColumns+` FROM worktrees
		WHERE project_id = ? AND kind = 'base' AND archived_at IS NULL
	`, projectID)
	return scanWorktree(row)
}

// ArchiveWorktree archives a worktree and all its live sessions in one
// transaction, stamping both with the same archive time. Returns the
// stamp and the ids of the sessions archived with it.
func (s *Store) ArchiveWorktree(id string) (time.Time, []string, error) {
	archivedAt := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return time.Time{}, nil, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		`SELECT id FROM sessions WHERE worktree_id = ? AND archived_at IS NULL ORDER BY sort_key`, id,
	)
	if err != nil {
		return time.Time{}, nil, err
	}
	var sessionIDs []string
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			rows.Close()
			return time.Time{}, nil, err
		}
		sessionIDs = append(sessionIDs, sid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return time.Time{}, nil, err
	}

	if _, err := tx.Exec(
		`UPDATE worktrees SET archived_at = ? WHERE id = ? AND archived_at IS NULL`, archivedAt, id,
	); err != nil {
		return time.Time{}, nil, err
	}
	if _, err := tx.Exec(
		`UPDATE sessions SET archived_at = ? WHERE worktree_id = ? AND archived_at IS NULL`, archivedAt, id,
	); err != nil {
		return time.Time{}, nil, err
	}

	return archivedAt, sessionIDs, tx.Commit()
}

// UnarchiveWorktree restores a worktree and every session archived at
// the same cascade, in one transaction. Sessions archived before the
// worktree (individually) stay archived.
func (s *Store) UnarchiveWorktree(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var archivedAt sql.NullTime
	if err := tx.QueryRow(`SELECT archived_at FROM worktrees WHERE id = ?`, id).Scan(&archivedAt); err != nil {
		return err
	}
	if !archivedAt.Valid {
		return nil // already active
	}

	if _, err := tx.Exec(`UPDATE worktrees SET archived_at = NULL WHERE id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`UPDATE sessions SET archived_at = NULL WHERE worktree_id = ? AND archived_at = ?`,
		id, archivedAt.Time,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// DeleteWorktree permanently removes a worktree, its sessions, and their
// messages in one transaction.
func (s *Store) DeleteWorktree(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM messages WHERE session_id IN (SELECT id FROM sessions WHERE worktree_id = ?)`, id,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE worktree_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM worktrees WHERE id = ?`, id); err != nil {
		return err
	}

	return tx.Commit()
}

// ListArchivedWorktrees retrieves archived worktrees with denormalized
// project names and the ids of their archived sessions, most recent
// first.
func (s *Store) ListArchivedWorktrees() ([]*entity.ArchivedWorktree, error) {
	rows, err := s.db.Query(`
		SELECT w.id, w.project_id, w.name, w.path, w.branch, w.kind, w.sort_key,
		       w.created_at, w.archived_at, p.name
		FROM worktrees w
		JOIN projects p ON p.id = w.project_id
		WHERE w.archived_at IS NOT NULL
		ORDER BY w.archived_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var archived []*entity.ArchivedWorktree
	for rows.Next() {
		var wt entity.Worktree
		var archivedAt time.Time
		var projectName string
		var kind string
		err := rows.Scan(
			&wt.ID, &wt.ProjectID, &wt.Name, &wt.Path, &wt.Branch, &kind,
			&wt.SortKey, &wt.CreatedAt, &archivedAt, &projectName,
		)
		if err != nil {
			return nil, err
		}
		wt.Kind = entity.WorktreeKind(kind)
		wt.Status = entity.WorktreeReady
		wt.ArchivedAt = &archivedAt
		archived = append(archived, &entity.ArchivedWorktree{
			Worktree:    &wt,
			ArchivedAt:  archivedAt,
			ProjectName: projectName,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, a := range archived {
		ids, err := s.archivedSessionIDs(a.Worktree.ID)
		if err != nil {
			return nil, err
		}
		a.SessionIDs = ids
	}
	return archived, nil
}

func (s *Store) archivedSessionIDs(worktreeID string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT id FROM sessions WHERE worktree_id = ? AND archived_at IS NOT NULL ORDER BY sort_key`,
		worktreeID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanWorktree(row *sql.Row) (*entity.Worktree, error) {
	var wt entity.Worktree
	var kind string
	var archivedAt sql.NullTime
	err := row.Scan(
		&wt.ID, &wt.ProjectID, &wt.Name, &wt.Path, &wt.Branch, &kind,
		&wt.SortKey, &wt.CreatedAt, &archivedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	wt.Kind = entity.WorktreeKind(kind)
	wt.Status = entity.WorktreeReady
	if archivedAt.Valid {
		wt.ArchivedAt = &archivedAt.Time
	}
	return &wt, nil
}

func scanWorktrees(rows *sql.Rows) ([]*entity.Worktree, error) {
	var worktrees []*entity.Worktree
	for rows.Next() {
		var wt entity.Worktree
		var kind string
		var archivedAt sql.NullTime
		err := rows.Scan(
			&wt.ID, &wt.ProjectID, &wt.Name, &wt.Path, &wt.Branch, &kind,
			&wt.SortKey, &wt.CreatedAt, &archivedAt,
		)
		if err != nil {
			return nil, err
		}
		wt.Kind = entity.WorktreeKind(kind)
		wt.Status = entity.WorktreeReady
		if archivedAt.Valid {
			wt.ArchivedAt = &archivedAt.Time
		}
		worktrees = append(worktrees, &wt)
	}
	return worktrees, rows.Err()
}
