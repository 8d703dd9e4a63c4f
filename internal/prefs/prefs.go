// Package prefs persists the small amount of user state hrbridge keeps
// between runs: the display theme and the last connected device.
// Preferences are stored in ~/.config/hrbridge/prefs.toml.
package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	toml "github.com/pelletier/go-toml/v2"
)

// Prefs holds persisted user preferences.
type Prefs struct {
	Theme        string `toml:"theme"`
	LastDeviceID string `toml:"last_device_id"`
}

const (
	defaultPrefsPath = "~/.config/hrbridge/prefs.toml"
	defaultTheme     = "default"
)

// DefaultPath returns the default preferences file path.
func DefaultPath() string {
	return defaultPrefsPath
}

// Defaults returns the preferences used when nothing is stored.
func Defaults() Prefs {
	return Prefs{Theme: defaultTheme}
}

// Load reads preferences from the given path, falling back to defaults if
// the file is missing or unreadable.
func Load(path string) (Prefs, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Defaults(), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return Defaults(), nil // Graceful degradation
	}

	p := Defaults()
	if err := toml.Unmarshal(data, &p); err != nil {
		return Defaults(), nil // Graceful degradation
	}

	if strings.TrimSpace(p.Theme) == "" {
		p.Theme = defaultTheme
	}
	p.LastDeviceID = strings.TrimSpace(p.LastDeviceID)

	return p, nil
}

// Save writes preferences to the given path, creating directories as needed.
func Save(path string, p Prefs) error {
	resolved, err := resolvePath(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}

	data, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal prefs: %w", err)
	}

	// Replace the file atomically.
	tmp := resolved + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}
	if err := os.Rename(tmp, resolved); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write prefs: %w", err)
	}

	return nil
}

// Store is a Prefs value bound to a file. Every setter persists
// immediately. Safe for concurrent use.
type Store struct {
	path string

	mu    sync.Mutex
	prefs Prefs
}

// Open loads the preferences at path into a Store.
func Open(path string) (*Store, error) {
	p, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, prefs: p}, nil
}

// Snapshot returns the current preferences.
func (s *Store) Snapshot() Prefs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs
}

// Theme returns the display theme.
func (s *Store) Theme() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs.Theme
}

// SetTheme stores and persists the display theme.
func (s *Store) SetTheme(theme string) error {
	theme = strings.TrimSpace(theme)
	if theme == "" {
		return errors.New("prefs: theme must not be empty")
	}
	return s.update(func(p *Prefs) { p.Theme = theme })
}

// LastDeviceID returns the id of the last connected device, or "".
func (s *Store) LastDeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs.LastDeviceID
}

// SetLastDeviceID stores and persists the last connected device id. An
// empty id clears it.
func (s *Store) SetLastDeviceID(id string) error {
	id = strings.TrimSpace(id)
	return s.update(func(p *Prefs) { p.LastDeviceID = id })
}

func (s *Store) update(fn func(*Prefs)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.prefs
	fn(&next)
	if next == s.prefs {
		return nil
	}
	if err := Save(s.path, next); err != nil {
		return err
	}
	s.prefs = next
	return nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultPrefsPath)
	}
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
