package config

import (
	"fmt"
	"sync"
)

// Manager holds the live configuration for read-heavy concurrent access.
// The daemon swaps in a fresh Config on SIGHUP without restarting loops.
type Manager struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewManager constructs a manager with an initial config.
func NewManager(initial *Config) *Manager {
	return &Manager{cfg: initial}
}

// Get returns the current config pointer under a shared lock.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Set swaps the current config pointer under an exclusive lock.
func (m *Manager) Set(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// Reload loads config from path and swaps it into place.
func (m *Manager) Reload(path string) error {
	if path == "" {
		return fmt.Errorf("config reload path is required")
	}

	loaded, err := Load(path)
	if err != nil {
		return err
	}

	m.Set(loaded)
	return nil
}
