package store

import (
	"database/sql"
	"fmt"
	"time"
)

const executionCols = `id, task_id, model, started_at, completed_at, success, error, tokens_used, cost_usd`

// InsertExecution persists a new execution attempt and returns its id.
func (s *Store) InsertExecution(e *Execution) (string, error) {
	if e.StartedAt == 0 {
		e.StartedAt = nowMs()
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		if e.ID == "" {
			id, err := NewID("exec")
			if err != nil {
				return "", err
			}
			e.ID = id
		}

		_, err := s.db.Exec(
			`INSERT INTO executions (`+executionCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.TaskID, e.Model, e.StartedAt, nullableMs(e.CompletedAt),
			e.Success, e.Error, e.TokensUsed, e.CostUSD,
		)
		if err == nil {
			return e.ID, nil
		}
		if !isUniqueIDError(err, "executions") {
			return "", fmt.Errorf("store: insert execution: %w", err)
		}
		e.ID = ""
	}
	return "", fmt.Errorf("store: insert execution: exceeded %d id generation attempts", maxIDAttempts)
}

// FinishExecution closes an execution with its outcome.
func (s *Store) FinishExecution(id string, success bool, errText string, tokensUsed int, costUSD float64) error {
	res, err := s.db.Exec(
		`UPDATE executions SET completed_at = ?, success = ?, error = ?, tokens_used = ?, cost_usd = ? WHERE id = ?`,
		nowMs(), success, errText, tokensUsed, costUSD, id,
	)
	if err != nil {
		return fmt.Errorf("store: finish execution %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: finish execution %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("store: finish execution %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetExecution returns one execution by id, or ErrNotFound.
func (s *Store) GetExecution(id string) (*Execution, error) {
	execs, err := s.queryExecutions(`SELECT `+executionCols+` FROM executions WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(execs) == 0 {
		return nil, fmt.Errorf("store: get execution %s: %w", id, ErrNotFound)
	}
	return &execs[0], nil
}

// ExecutionsForTask returns all executions for a task, oldest first.
func (s *Store) ExecutionsForTask(taskID string) ([]Execution, error) {
	return s.queryExecutions(`SELECT `+executionCols+` FROM executions WHERE task_id = ? ORDER BY started_at ASC, id ASC`, taskID)
}

// RecentExecutions returns the most recent executions, newest first.
func (s *Store) RecentExecutions(limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryExecutions(`SELECT `+executionCols+` FROM executions ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
}

// DanglingExecutions returns executions never closed, which after a crash
// means their owning process died mid-flight.
func (s *Store) DanglingExecutions() ([]Execution, error) {
	return s.queryExecutions(`SELECT ` + executionCols + ` FROM executions WHERE completed_at IS NULL`)
}

// CloseDanglingExecutions marks every open execution failed with the given
// error text. Returns the number of rows closed.
func (s *Store) CloseDanglingExecutions(errText string) (int, error) {
	res, err := s.db.Exec(
		`UPDATE executions SET completed_at = ?, success = 0, error = ? WHERE completed_at IS NULL`,
		nowMs(), errText,
	)
	if err != nil {
		return 0, fmt.Errorf("store: close dangling executions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: close dangling executions: %w", err)
	}
	return int(n), nil
}

// GetTodayStats aggregates executions completed since local midnight.
func (s *Store) GetTodayStats() (TodayStats, error) {
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).UnixMilli()

	var stats TodayStats
	err := s.db.QueryRow(
		`SELECT
			COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(tokens_used), 0),
			COALESCE(SUM(cost_usd), 0)
		FROM executions WHERE completed_at IS NOT NULL AND completed_at >= ?`,
		midnight,
	).Scan(&stats.Completed, &stats.Failed, &stats.TokensUsed, &stats.CostUSD)
	if err != nil {
		return TodayStats{}, fmt.Errorf("store: today stats: %w", err)
	}
	return stats, nil
}

func (s *Store) queryExecutions(query string, args ...any) ([]Execution, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query executions: %w", err)
	}
	defer rows.Close()

	var execs []Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

func scanExecution(scanner rowScanner) (Execution, error) {
	var e Execution
	var completedAt sql.NullInt64
	if err := scanner.Scan(
		&e.ID, &e.TaskID, &e.Model, &e.StartedAt, &completedAt,
		&e.Success, &e.Error, &e.TokensUsed, &e.CostUSD,
	); err != nil {
		return Execution{}, fmt.Errorf("store: scan execution: %w", err)
	}
	e.CompletedAt = completedAt.Int64
	return e, nil
}
