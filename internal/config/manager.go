package config

import (
	"fmt"
	"sync"
)

// Manager holds the effective Config behind a mutex so Reload can swap
// in a freshly loaded and validated Config without racing concurrent
// Get callers. The Bridge does not read through Manager: it is handed
// the *Config returned by Get once, at construction.
type Manager struct {
	path               string
	resolveCredential  CredentialResolver
	mu                 sync.RWMutex
	effective          *Config
}

// NewManager loads, resolves, validates, and holds the config at path.
func NewManager(path string, resolveCredential CredentialResolver) (*Manager, error) {
	m := &Manager{path: path, resolveCredential: resolveCredential}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Get returns the current effective config. Callers must not mutate it.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.effective
}

// Reload re-reads the config file from disk, resolves references,
// validates it, and swaps it in atomically. A failed reload leaves the
// previously effective config in place.
func (m *Manager) Reload() error {
	cfg, err := LoadConfig(m.path)
	if err != nil {
		return fmt.Errorf("config: reload: %w", err)
	}
	if err := cfg.ResolveReferences(m.resolveCredential); err != nil {
		return fmt.Errorf("config: reload: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: reload: %w", err)
	}

	m.mu.Lock()
	m.effective = cfg
	m.mu.Unlock()
	return nil
}
