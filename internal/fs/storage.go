package fs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/pavel-fokin/files-vault/internal/files"
)

// Storage implements files.BlobStorage using the filesystem. Every blob lives
// at <dataDir>/<id> where id is the hyphenated file uuid.
type Storage struct {
	dataDir string
}

// NewStorage creates a new filesystem storage, creating dataDir if needed.
func NewStorage(dataDir string) (*Storage, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Storage{dataDir: dataDir}, nil
}

// Path returns the location of the blob for id.
func (s *Storage) Path(id uuid.UUID) string {
	return filepath.Join(s.dataDir, id.String())
}

// Write stores data for id. Readers either see the previous state or the
// complete blob, never a partial one.
func (s *Storage) Write(id uuid.UUID, data []byte) error {
	tmp, err := os.CreateTemp(s.dataDir, "."+id.String()+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close blob: %w", err)
	}

	if err := os.Rename(tmpPath, s.Path(id)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename blob: %w", err)
	}

	// Best effort: the blob is already in place.
	_ = syncDir(s.dataDir)

	return nil
}

// Read returns the whole blob for id.
func (s *Storage) Read(id uuid.UUID) ([]byte, error) {
	data, err := os.ReadFile(s.Path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, files.ErrNotFound.New("blob %s", id)
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

// Delete removes the blob for id.
func (s *Storage) Delete(id uuid.UUID) error {
	if err := os.Remove(s.Path(id)); err != nil {
		if os.IsNotExist(err) {
			return files.ErrNotFound.New("blob %s", id)
		}
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// Exists checks if a blob exists
func (s *Storage) Exists(id uuid.UUID) bool {
	info, err := os.Stat(s.Path(id))
	return err == nil && info.Mode().IsRegular()
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
