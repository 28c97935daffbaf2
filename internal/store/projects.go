package store

import (
	"fmt"
)

const projectCols = `id, name, description, target, status, created_at, updated_at`

// InsertProject persists a project and returns its id.
func (s *Store) InsertProject(p *Project) (string, error) {
	if p.CreatedAt == 0 {
		p.CreatedAt = nowMs()
	}
	if p.UpdatedAt == 0 {
		p.UpdatedAt = p.CreatedAt
	}
	if p.Status == "" {
		p.Status = ProjectActive
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		if p.ID == "" {
			id, err := NewID("proj")
			if err != nil {
				return "", err
			}
			p.ID = id
		}

		_, err := s.db.Exec(
			`INSERT INTO projects (`+projectCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Name, p.Description, p.Target, p.Status, p.CreatedAt, p.UpdatedAt,
		)
		if err == nil {
			return p.ID, nil
		}
		if !isUniqueIDError(err, "projects") {
			return "", fmt.Errorf("store: insert project: %w", err)
		}
		p.ID = ""
	}
	return "", fmt.Errorf("store: insert project: exceeded %d id generation attempts", maxIDAttempts)
}

// InsertProjectTasks persists a project and its initial tasks in one
// transaction. Task ids must be pre-generated by the caller so dependency
// edges between batch members can reference them.
func (s *Store) InsertProjectTasks(p *Project, tasks []*Task) error {
	if p.ID == "" {
		id, err := NewID("proj")
		if err != nil {
			return err
		}
		p.ID = id
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = nowMs()
	}
	if p.UpdatedAt == 0 {
		p.UpdatedAt = p.CreatedAt
	}
	if p.Status == "" {
		p.Status = ProjectActive
	}
	for _, t := range tasks {
		if t.ID == "" {
			return fmt.Errorf("store: insert project tasks: task %q has no id", t.Title)
		}
		if t.Status == "" {
			t.Status = StatusPending
		}
		if err := validateTaskEnums(t); err != nil {
			return fmt.Errorf("store: insert project tasks: %w", err)
		}
		if t.CreatedAt == 0 {
			t.CreatedAt = nowMs()
		}
		if t.UpdatedAt == 0 {
			t.UpdatedAt = t.CreatedAt
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: insert project tasks: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO projects (`+projectCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.Target, p.Status, p.CreatedAt, p.UpdatedAt,
	); err != nil {
		return fmt.Errorf("store: insert project tasks: %w", err)
	}
	for _, t := range tasks {
		if err := insertTaskTx(tx, t); err != nil {
			return fmt.Errorf("store: insert project tasks: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: insert project tasks: %w", err)
	}
	return nil
}

// GetProject returns a project by id, or ErrNotFound.
func (s *Store) GetProject(id string) (*Project, error) {
	row := s.db.QueryRow(`SELECT `+projectCols+` FROM projects WHERE id = ?`, id)
	var p Project
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Target, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("store: get project %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("store: get project %s: %w", id, err)
	}
	if !ValidProjectStatus(p.Status) {
		return nil, fmt.Errorf("store: project %s has unknown status %q", p.ID, p.Status)
	}
	return &p, nil
}

// UpdateProjectStatus transitions a project's status.
func (s *Store) UpdateProjectStatus(id, status string) error {
	if !ValidProjectStatus(status) {
		return fmt.Errorf("store: update project %s: unknown status %q", id, status)
	}
	res, err := s.db.Exec(`UPDATE projects SET status = ?, updated_at = ? WHERE id = ?`, status, nowMs(), id)
	if err != nil {
		return fmt.Errorf("store: update project %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update project %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("store: update project %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListProjects returns all projects, oldest first.
func (s *Store) ListProjects() ([]Project, error) {
	rows, err := s.db.Query(`SELECT ` + projectCols + ` FROM projects ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Target, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}
