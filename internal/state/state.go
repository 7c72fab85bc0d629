// Package state persists small device facts across reboots.
package state

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

type deviceState struct {
	DidGPSReset bool `yaml:"did_gps_reset"`
}

// Store is a YAML file holding device state. A missing file reads as the
// zero state.
type Store struct {
	path string

	mu sync.Mutex
	st deviceState
}

// Open loads path, or starts empty when it does not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, &s.st); err != nil {
		return nil, err
	}
	return s, nil
}

// DidGPSReset reports whether the one-time receiver factory reset was done.
func (s *Store) DidGPSReset() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.DidGPSReset
}

// MarkGPSReset records the factory reset and saves.
func (s *Store) MarkGPSReset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.st
	next.DidGPSReset = true
	if err := s.save(next); err != nil {
		return err
	}
	s.st = next
	return nil
}

// ClearGPSReset forgets the reset so the next start repeats it.
func (s *Store) ClearGPSReset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.st
	next.DidGPSReset = false
	if err := s.save(next); err != nil {
		return err
	}
	s.st = next
	return nil
}

func (s *Store) save(st deviceState) error {
	b, err := yaml.Marshal(&st)
	if err != nil {
		return err
	}

	// Write atomically so a power loss never leaves a torn file.
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}
