package update

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/mindgarden-dev/garden/internal/paths"
)

// CheckInterval is how often the background check queries GitHub.
const CheckInterval = 24 * time.Hour

// State caches the last background check between runs.
type State struct {
	LastCheckedAt  time.Time `json:"lastCheckedAt"`
	LatestVersion  string    `json:"latestVersion,omitempty"`
	CurrentVersion string    `json:"currentVersion,omitempty"`
	ReleaseURL     string    `json:"releaseURL,omitempty"`
}

// StatePath returns the cache file location.
func StatePath() (string, error) {
	root, err := paths.StateRoot()
	if err != nil {
		return "", err
	}

	return filepath.Join(root, "update-check.json"), nil
}

// LoadState reads the cache at path. A missing or corrupt file yields the
// zero State so that a check runs.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from StatePath
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &State{}, nil
		}

		return nil, fmt.Errorf("read update state: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return &State{}, nil
	}

	return &st, nil
}

// SaveState replaces the cache at path atomically.
func SaveState(path string, st *State) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create update state dir: %w", err)
	}

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal update state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp update state: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("write temp update state: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp update state: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		// Windows refuses to rename over an existing file.
		_ = os.Remove(path)

		if err := os.Rename(tmp.Name(), path); err != nil {
			_ = os.Remove(tmp.Name())
			return fmt.Errorf("replace update state: %w", err)
		}
	}

	return nil
}

// Due reports whether a check should run at now.
func (s *State) Due(now time.Time) bool {
	return s.LastCheckedAt.IsZero() || now.Sub(s.LastCheckedAt) >= CheckInterval
}

// HasUpdate reports whether the cached latest version is newer than current.
func (s *State) HasUpdate(current string) bool {
	return Newer(current, s.LatestVersion)
}
