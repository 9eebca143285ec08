// Package profile keeps the local user's player info between runs.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jason-s-yu/sipsync/internal/models"
)

// DefaultName is used when no profile exists yet.
const DefaultName = "Player"

// FileStore stores UserData as a JSON file.
type FileStore struct {
	path string
}

// NewFileStore stores the profile at path. An empty path means
// <user config dir>/sipsync/profile.json.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("locating config dir: %w", err)
		}
		path = filepath.Join(dir, "sipsync", "profile.json")
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Path() string { return s.path }

// Load returns the stored profile, or a default one if none was saved yet.
func (s *FileStore) Load() (models.UserData, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return models.UserData{Player: models.NewPlayer(DefaultName)}, nil
	}
	if err != nil {
		return models.UserData{}, fmt.Errorf("reading profile: %w", err)
	}

	var ud models.UserData
	if err := json.Unmarshal(data, &ud); err != nil {
		return models.UserData{}, fmt.Errorf("parsing profile %s: %w", s.path, err)
	}
	if ud.Player.Name == "" {
		ud.Player.Name = DefaultName
	}
	if ud.Player.DrinkModifier <= 0 {
		ud.Player.DrinkModifier = 1
	}
	return ud, nil
}

// Save writes the profile through a temp file so a crash never leaves half a file.
func (s *FileStore) Save(ud models.UserData) error {
	data, err := json.MarshalIndent(ud, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating profile dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing profile: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing profile: %w", err)
	}
	return nil
}
