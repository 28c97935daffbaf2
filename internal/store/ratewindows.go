package store

import (
	"fmt"
)

const rateWindowCols = `model, current_usage, max_requests, window_start, window_duration, updated_at`

// GetRateWindow returns the persisted window for a model, or nil when the
// model has never been seeded.
func (s *Store) GetRateWindow(model string) (*RateWindow, error) {
	rows, err := s.db.Query(`SELECT `+rateWindowCols+` FROM rate_limits WHERE model = ?`, model)
	if err != nil {
		return nil, fmt.Errorf("store: get rate window %s: %w", model, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	w, err := scanRateWindow(rows)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// SeedRateWindow inserts a window for a model if absent; an existing row
// keeps its in-window usage but picks up new caps.
func (s *Store) SeedRateWindow(model string, maxRequests int, windowDuration int64) error {
	now := nowMs()
	_, err := s.db.Exec(
		`INSERT INTO rate_limits (`+rateWindowCols+`) VALUES (?, 0, ?, ?, ?, ?)
		 ON CONFLICT(model) DO UPDATE SET max_requests = excluded.max_requests,
		 window_duration = excluded.window_duration, updated_at = excluded.updated_at`,
		model, maxRequests, now, windowDuration, now,
	)
	if err != nil {
		return fmt.Errorf("store: seed rate window %s: %w", model, err)
	}
	return nil
}

// SaveRateWindow rewrites a model's usage counters.
func (s *Store) SaveRateWindow(w *RateWindow) error {
	w.UpdatedAt = nowMs()
	res, err := s.db.Exec(
		`UPDATE rate_limits SET current_usage = ?, max_requests = ?, window_start = ?,
		 window_duration = ?, updated_at = ? WHERE model = ?`,
		w.CurrentUsage, w.MaxRequests, w.WindowStart, w.WindowDuration, w.UpdatedAt, w.Model,
	)
	if err != nil {
		return fmt.Errorf("store: save rate window %s: %w", w.Model, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: save rate window %s: %w", w.Model, err)
	}
	if affected == 0 {
		return fmt.Errorf("store: save rate window %s: %w", w.Model, ErrNotFound)
	}
	return nil
}

// ListRateWindows returns every persisted window.
func (s *Store) ListRateWindows() ([]RateWindow, error) {
	rows, err := s.db.Query(`SELECT ` + rateWindowCols + ` FROM rate_limits ORDER BY model`)
	if err != nil {
		return nil, fmt.Errorf("store: list rate windows: %w", err)
	}
	defer rows.Close()

	var windows []RateWindow
	for rows.Next() {
		w, err := scanRateWindow(rows)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

func scanRateWindow(scanner rowScanner) (RateWindow, error) {
	var w RateWindow
	if err := scanner.Scan(
		&w.Model, &w.CurrentUsage, &w.MaxRequests, &w.WindowStart, &w.WindowDuration, &w.UpdatedAt,
	); err != nil {
		return RateWindow{}, fmt.Errorf("store: scan rate window: %w", err)
	}
	return w, nil
}
