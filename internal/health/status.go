package health

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Status is the executor's externally visible state, rewritten on every
// health tick and read by the CLI and API while the daemon runs elsewhere.
type Status struct {
	Running        bool     `json:"running"`
	Paused         bool     `json:"paused"`
	PID            int      `json:"pid"`
	InstanceID     string   `json:"instance_id"`
	StartedAt      int64    `json:"started_at"`
	UptimeSeconds  int64    `json:"uptime_seconds"`
	CurrentTasks   []string `json:"current_tasks"`
	CompletedToday int      `json:"completed_today"`
	FailedToday    int      `json:"failed_today"`
	NextScheduled  int64    `json:"next_scheduled,omitempty"`
}

// WriteStatus replaces the status file atomically: full write to a temp file
// in the same directory, then rename. Readers never observe a torn file.
func WriteStatus(path string, s *Status) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("status: marshal: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".status-*")
	if err != nil {
		return fmt.Errorf("status: temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("status: write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("status: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("status: rename into %s: %w", path, err)
	}
	return nil
}

// ReadStatus loads the status file. A missing file returns (nil, nil): no
// executor has written one.
func ReadStatus(path string) (*Status, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("status: read %s: %w", path, err)
	}
	var s Status
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("status: parse %s: %w", path, err)
	}
	return &s, nil
}

// RemoveStatus deletes the status file, tolerating its absence.
func RemoveStatus(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
