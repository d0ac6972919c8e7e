// Package settings holds the runtime-editable server settings: where the
// ChirpStack server lives, how to authenticate against it, and which
// application/profile to fall back to when a dataset does not carry them.
package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

var ErrNotConfigured = errors.New("registry connection is not configured")

type Settings struct {
	Server                 string `yaml:"server"`
	APIToken               string `yaml:"api_token"`
	TenantID               string `yaml:"tenant_id"`
	DefaultApplicationID   string `yaml:"default_application_id"`
	DefaultDeviceProfileID string `yaml:"default_device_profile_id"`
}

// Store is a mutex-guarded settings holder persisted to a yaml file, so
// edits made through the UI survive a restart.
type Store struct {
	mu   sync.RWMutex
	path string
	cur  Settings
}

// NewStore loads the settings file if it exists; a missing file starts an
// empty store.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &s.cur); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}

	slog.Info("Loaded settings", "path", path, "server", s.cur.Server)
	return s, nil
}

func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Configured reports whether enough is present to dial the registry.
func (s *Store) Configured() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.Server != "" && s.cur.APIToken != ""
}

// Save replaces the settings and persists them. The file is written with
// owner-only permissions since it carries the API token.
func (s *Store) Save(next Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := yaml.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create settings directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace settings file: %w", err)
	}

	s.cur = next
	slog.Info("Settings saved", "path", s.path, "server", next.Server)
	return nil
}
