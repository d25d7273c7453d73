package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Sentinel errors for registry CRUD operations.
var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrConnectionExists   = errors.New("connection already exists")
)

// For mocking in tests.
var osUserHomeDir = os.UserHomeDir

const (
	configDirName       = ".tunnelctl"
	connectionsFileName = "connections.json"
	settingsFileName    = "settings.yaml"
)

// Store persists connection configurations to a single JSON file. Every write
// goes through a temp-file-then-rename so a reader can never observe a partial
// file.
type Store struct {
	path string
}

// NewStore creates a store rooted at the default location,
// ~/.tunnelctl/connections.json.
func NewStore() (*Store, error) {
	dir, err := UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("could not determine config directory: %w", err)
	}
	return &Store{path: filepath.Join(dir, connectionsFileName)}, nil
}

// NewStoreWithPath creates a store bound to an explicit file path.
func NewStoreWithPath(path string) *Store {
	return &Store{path: path}
}

// Path returns the file the store reads and writes.
func (s *Store) Path() string {
	return s.path
}

// Load reads the registry from disk. A missing file yields an empty registry,
// not an error.
func (s *Store) Load() (TunnelsFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return TunnelsFile{}, nil
		}
		return TunnelsFile{}, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	var file TunnelsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return TunnelsFile{}, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	return file, nil
}

// Save writes the registry atomically: temp file in the same directory, then
// rename over the target.
func (s *Store) Save(file TunnelsFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize connections: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to save %s: %w", s.path, err)
	}
	return nil
}

// Connections returns all persisted connection configurations.
func (s *Store) Connections() ([]ConnectionConfig, error) {
	file, err := s.Load()
	if err != nil {
		return nil, err
	}
	return file.Connections, nil
}

// Connection returns the configuration with the given ID, or
// ErrConnectionNotFound.
func (s *Store) Connection(id uuid.UUID) (ConnectionConfig, error) {
	file, err := s.Load()
	if err != nil {
		return ConnectionConfig{}, err
	}
	for _, c := range file.Connections {
		if c.ID == id {
			return c, nil
		}
	}
	return ConnectionConfig{}, fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
}

// Add appends a new connection. Adding an ID that is already present fails
// with ErrConnectionExists.
func (s *Store) Add(conn ConnectionConfig) error {
	file, err := s.Load()
	if err != nil {
		return err
	}
	for _, c := range file.Connections {
		if c.ID == conn.ID {
			return fmt.Errorf("%w: %s", ErrConnectionExists, conn.ID)
		}
	}
	file.Connections = append(file.Connections, conn)
	return s.Save(file)
}

// Update replaces the stored configuration with the same ID, failing with
// ErrConnectionNotFound if it is absent.
func (s *Store) Update(conn ConnectionConfig) error {
	file, err := s.Load()
	if err != nil {
		return err
	}
	for i, c := range file.Connections {
		if c.ID == conn.ID {
			file.Connections[i] = conn
			return s.Save(file)
		}
	}
	return fmt.Errorf("%w: %s", ErrConnectionNotFound, conn.ID)
}

// Remove deletes the configuration with the given ID, failing with
// ErrConnectionNotFound if it is absent.
func (s *Store) Remove(id uuid.UUID) error {
	file, err := s.Load()
	if err != nil {
		return err
	}
	kept := file.Connections[:0]
	found := false
	for _, c := range file.Connections {
		if c.ID == id {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
	}
	file.Connections = kept
	return s.Save(file)
}

// Clear removes every connection.
func (s *Store) Clear() error {
	return s.Save(TunnelsFile{})
}

// UserConfigDir returns the tunnelctl configuration directory,
// ~/.tunnelctl.
func UserConfigDir() (string, error) {
	home, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configDirName), nil
}
