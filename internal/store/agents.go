package store

import (
	"database/sql"
	"fmt"
)

const agentCols = `id, name, model, role, score, memory_used, last_used, created_at`

// UpsertAgent inserts an agent by name or refreshes its model and role.
// Score and memory_used are owned by collaborators and preserved on conflict.
func (s *Store) UpsertAgent(a *Agent) (string, error) {
	if a.CreatedAt == 0 {
		a.CreatedAt = nowMs()
	}
	if a.ID == "" {
		id, err := NewID("agent")
		if err != nil {
			return "", err
		}
		a.ID = id
	}

	_, err := s.db.Exec(
		`INSERT INTO agents (`+agentCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET model = excluded.model, role = excluded.role`,
		a.ID, a.Name, a.Model, a.Role, a.Score, a.MemoryUsed, nullableMs(a.LastUsed), a.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("store: upsert agent %s: %w", a.Name, err)
	}
	return a.ID, nil
}

// GetAgentByName returns an agent by its unique name, or nil when absent.
func (s *Store) GetAgentByName(name string) (*Agent, error) {
	rows, err := s.db.Query(`SELECT `+agentCols+` FROM agents WHERE name = ?`, name)
	if err != nil {
		return nil, fmt.Errorf("store: get agent %s: %w", name, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	a, err := scanAgent(rows)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAgents returns the registry ordered by name.
func (s *Store) ListAgents() ([]Agent, error) {
	return s.queryAgents(`SELECT ` + agentCols + ` FROM agents ORDER BY name`)
}

// LowestScoringAgents returns up to k agents with the lowest scores. The
// council uses this to pick personas due for memory compaction.
func (s *Store) LowestScoringAgents(k int) ([]Agent, error) {
	if k <= 0 {
		return nil, nil
	}
	return s.queryAgents(`SELECT `+agentCols+` FROM agents ORDER BY score ASC, name ASC LIMIT ?`, k)
}

// TopScoringAgents returns up to k agents with the highest scores.
func (s *Store) TopScoringAgents(k int) ([]Agent, error) {
	if k <= 0 {
		return nil, nil
	}
	return s.queryAgents(`SELECT `+agentCols+` FROM agents ORDER BY score DESC, name ASC LIMIT ?`, k)
}

// TouchAgent stamps last_used for an agent name.
func (s *Store) TouchAgent(name string) error {
	_, err := s.db.Exec(`UPDATE agents SET last_used = ? WHERE name = ?`, nowMs(), name)
	if err != nil {
		return fmt.Errorf("store: touch agent %s: %w", name, err)
	}
	return nil
}

// UpdateAgentScore rewrites an agent's score.
func (s *Store) UpdateAgentScore(name string, score float64) error {
	res, err := s.db.Exec(`UPDATE agents SET score = ? WHERE name = ?`, score, name)
	if err != nil {
		return fmt.Errorf("store: update agent score %s: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update agent score %s: %w", name, err)
	}
	if affected == 0 {
		return fmt.Errorf("store: update agent score %s: %w", name, ErrNotFound)
	}
	return nil
}

func (s *Store) queryAgents(query string, args ...any) ([]Agent, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func scanAgent(scanner rowScanner) (Agent, error) {
	var a Agent
	var lastUsed sql.NullInt64
	if err := scanner.Scan(
		&a.ID, &a.Name, &a.Model, &a.Role, &a.Score, &a.MemoryUsed, &lastUsed, &a.CreatedAt,
	); err != nil {
		return Agent{}, fmt.Errorf("store: scan agent: %w", err)
	}
	a.LastUsed = lastUsed.Int64
	return a, nil
}
