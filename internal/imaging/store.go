package imaging

import (
	"fmt"
	"os"
	"path/filepath"
)

// LiveFrameName is the file the capture loop overwrites when a camera has a
// live feed enabled.
const LiveFrameName = "live.jpg"

// Store writes frames under one directory per camera.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create frame directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

// Save writes data as name and returns the full path.
func (s *Store) Save(data []byte, name string) (string, error) {
	path := filepath.Join(s.dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("save frame %s: %w", name, err)
	}
	return path, nil
}

func (s *Store) Load(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load frame: %w", err)
	}
	return data, nil
}

// WriteLive replaces the live frame atomically so readers never see a
// partial JPEG.
func (s *Store) WriteLive(data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".live-*.jpg")
	if err != nil {
		return fmt.Errorf("write live frame: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write live frame: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write live frame: %w", err)
	}
	return os.Rename(tmp.Name(), filepath.Join(s.dir, LiveFrameName))
}
