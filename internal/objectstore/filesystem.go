package objectstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"medguard/internal/digest"
	"medguard/internal/guard"
)

// FileSystemStore keeps block payloads as files sharded by digest prefix:
//
//	<root>/
//	  blocks/
//	    <digest[0:2]>/
//	      <digest>
type FileSystemStore struct {
	root      string
	blocksDir string
}

var _ guard.ObjectStore = (*FileSystemStore)(nil)

// NewFileSystemStore creates a store rooted at root, creating the directory layout if needed.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	blocksDir := filepath.Join(root, "blocks")
	if err := os.MkdirAll(blocksDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blocks directory: %w", err)
	}
	return &FileSystemStore{root: root, blocksDir: blocksDir}, nil
}

// Root returns the directory the store was opened at.
func (s *FileSystemStore) Root() string { return s.root }

func (s *FileSystemStore) objectPath(d string) (string, error) {
	if !digest.Valid(d) {
		return "", fmt.Errorf("invalid digest: %q", d)
	}
	return filepath.Join(s.blocksDir, d[:2], d), nil
}

// PutIfAbsent stores payload under digest unless it is already present.
func (s *FileSystemStore) PutIfAbsent(d string, payload []byte) error {
	destPath, err := s.objectPath(d)
	if err != nil {
		return err
	}

	if _, err := os.Stat(destPath); err == nil {
		return nil
	}

	// MkdirAll tolerates a concurrent writer creating the shard first.
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("%w: creating shard directory: %w", guard.ErrIO, err)
	}

	return writeFile(destPath, payload)
}

// Get returns the payload stored under digest.
func (s *FileSystemStore) Get(d string) ([]byte, error) {
	srcPath, err := s.objectPath(d)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(srcPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", guard.ErrObjectNotFound, d)
		}
		return nil, fmt.Errorf("%w: reading object %s: %w", guard.ErrIO, d, err)
	}
	return data, nil
}

// Has reports whether digest is stored.
func (s *FileSystemStore) Has(d string) (bool, error) {
	p, err := s.objectPath(d)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("%w: stat object %s: %w", guard.ErrIO, d, err)
	}
	return true, nil
}

// Stats walks the blocks directory and totals object count and size.
// Temp files from in-flight writes are skipped.
func (s *FileSystemStore) Stats() (guard.StoreStats, error) {
	var stats guard.StoreStats
	err := filepath.WalkDir(s.blocksDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !digest.Valid(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		stats.Objects++
		stats.Bytes += info.Size()
		return nil
	})
	if err != nil {
		return guard.StoreStats{}, fmt.Errorf("%w: walking object store: %w", guard.ErrIO, err)
	}
	return stats, nil
}

// ValidateSetup verifies that the store directories are accessible.
func (s *FileSystemStore) ValidateSetup() error {
	for _, dir := range []string{s.root, s.blocksDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("object store directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("object store path is not a directory: %s", dir)
		}
	}
	return nil
}

// writeFile writes data to destPath using atomic write (temp file + rename).
// Two writers racing on the same digest both rename identical bytes into place.
func writeFile(destPath string, data []byte) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %w", guard.ErrIO, err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("%w: failed to write data: %w", guard.ErrIO, err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("%w: failed to sync temp file: %w", guard.ErrIO, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("%w: failed to close temp file: %w", guard.ErrIO, err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("%w: failed to rename temp file: %w", guard.ErrIO, err)
	}

	success = true
	return nil
}
