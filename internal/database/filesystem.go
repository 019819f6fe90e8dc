package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"medguard/internal/digest"
	"medguard/internal/guard"
)

// FileSystemManifestStore keeps one JSON document per source path:
//
//	<dir>/
//	  manifests/
//	    <digest of path>.json
type FileSystemManifestStore struct {
	dir string
}

var _ guard.ManifestStore = (*FileSystemManifestStore)(nil)

// NewFileSystemManifestStore creates the manifests directory under dataDir.
func NewFileSystemManifestStore(dataDir string) (*FileSystemManifestStore, error) {
	dir := filepath.Join(dataDir, "manifests")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create manifests directory: %w", err)
	}
	return &FileSystemManifestStore{dir: dir}, nil
}

func (s *FileSystemManifestStore) manifestPath(path string) string {
	return filepath.Join(s.dir, digest.Sum([]byte(path))+".json")
}

// Load reads the manifest for path. A missing file is an empty history.
func (s *FileSystemManifestStore) Load(path string) (*guard.BackupInfo, error) {
	info, err := readManifest(s.manifestPath(path))
	if err != nil || info == nil {
		return info, err
	}
	if info.FilePath != path {
		return nil, fmt.Errorf("%w: manifest for %s records path %s", guard.ErrManifestUnreadable, path, info.FilePath)
	}
	return info, nil
}

func readManifest(p string) (*guard.BackupInfo, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: reading manifest %s: %w", guard.ErrIO, p, err)
	}

	var info guard.BackupInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("%w: decoding manifest %s: %w", guard.ErrManifestUnreadable, p, err)
	}
	return &info, nil
}

// Save writes the manifest atomically. An empty history removes the manifest.
func (s *FileSystemManifestStore) Save(info *guard.BackupInfo) error {
	p := s.manifestPath(info.FilePath)
	if len(info.Versions) == 0 {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: removing manifest: %w", guard.ErrIO, err)
		}
		return nil
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest for %s: %w", info.FilePath, err)
	}
	return writeFile(p, data)
}

// List returns every readable manifest ordered by path.
// Manifests that cannot be decoded are skipped.
func (s *FileSystemManifestStore) List() ([]*guard.BackupInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: reading manifests directory: %w", guard.ErrIO, err)
	}

	var infos []*guard.BackupInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := readManifest(filepath.Join(s.dir, e.Name()))
		if errors.Is(err, guard.ErrManifestUnreadable) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if info != nil {
			infos = append(infos, info)
		}
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].FilePath < infos[j].FilePath })
	return infos, nil
}

func (s *FileSystemManifestStore) Close() error { return nil }

// writeFile replaces destPath atomically (temp file + fsync + rename).
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
		return fmt.Errorf("%w: failed to write manifest: %w", guard.ErrIO, err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("%w: failed to sync manifest: %w", guard.ErrIO, err)
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
