package store

import (
	"database/sql"
	"fmt"

	"github.com/Rhiz3K/Rhiz3K-jean/internal/entity"
)

// CreateProject registers a project. When no sort key is set the project
// is appended after the current maximum.
func (s *Store) CreateProject(p *entity.Project) error {
	existing, err := s.GetProjectByPath(p.Path)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("project already registered for %s", p.Path)
	}

	if p.SortKey == 0 {
		var max sql.NullInt64
		if err := s.db.QueryRow(`SELECT MAX(sort_key) FROM projects`).Scan(&max); err != nil {
			return err
		}
		if max.Valid {
			p.SortKey = int(max.Int64) + 1
		}
	}

	query := `
		INSERT INTO projects (id, name, path, default_branch, sort_key)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err = s.db.Exec(query, p.ID, p.Name, p.Path, p.DefaultBranch, p.SortKey)
	return err
}

// GetProject retrieves a project by ID.
func (s *Store) GetProject(id string) (*entity.Project, error) {
	row := s.db.QueryRow(`
		SELECT id, name, path, default_branch, sort_key
		FROM projects WHERE id = ?
	`, id)
	return scanProject(row)
}

// GetProjectByPath retrieves a project by its repository path.
func (s *Store) GetProjectByPath(path string) (*entity.Project, error) {
	row := s.db.QueryRow(`
		SELECT id, name, path, default_branch, sort_key
		FROM projects WHERE path = ?
	`, path)
	return scanProject(row)
}

// ListProjects retrieves all projects ordered by sort key.
func (s *Store) ListProjects() ([]*entity.Project, error) {
	rows, err := s.db.Query(`
		SELECT id, name, path, default_branch, sort_key
		FROM projects ORDER BY sort_key, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*entity.Project
	for rows.Next() {
		var p entity.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Path, &p.DefaultBranch, &p.SortKey); err != nil {
			return nil, err
		}
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

// DeleteProject removes a project registration.
func (s *Store) DeleteProject(id string) error {
	_, err := s.db.Exec(`DELETE FROM projects WHERE id = ?`, id)
	return err
}

func scanProject(row *sql.Row) (*entity.Project, error) {
	var p entity.Project
	err := row.Scan(&p.ID, &p.Name, &p.Path, &p.DefaultBranch, &p.SortKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
