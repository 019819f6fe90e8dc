package guard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"medguard/internal/digest"
)

// RestoreEngine reassembles a recorded version from its blocks and writes it
// back with an atomic rename, so the target is either untouched or complete.
type RestoreEngine struct {
	versions *VersionManager
	store    ObjectStore
	codec    blockCodec
	logger   Logger
}

// NewRestoreEngine creates a RestoreEngine. sealer and compressor must match the
// ones the BackupEngine wrote with.
func NewRestoreEngine(versions *VersionManager, store ObjectStore, sealer Sealer, compressor Compressor, logger Logger) *RestoreEngine {
	return &RestoreEngine{
		versions: versions,
		store:    store,
		codec:    blockCodec{sealer: sealer, compressor: compressor},
		logger:   logger,
	}
}

// Restore writes the selected version of path back to path itself.
// A nil version selects the latest.
func (r *RestoreEngine) Restore(path string, version *uint64) (BackupVersion, error) {
	return r.RestoreTo(path, version, path)
}

// RestoreTo writes the selected version of path to target.
func (r *RestoreEngine) RestoreTo(path string, version *uint64, target string) (BackupVersion, error) {
	data, v, err := r.Reassemble(path, version)
	if err != nil {
		return BackupVersion{}, err
	}
	if err := writeAtomic(target, data, v.Metadata); err != nil {
		return BackupVersion{}, err
	}
	r.logger.Info("restored file", "path", path, "version", v.Version, "target", target, "size", len(data))
	return v, nil
}

// Reassemble returns the exact bytes of the selected version without writing anything.
func (r *RestoreEngine) Reassemble(path string, version *uint64) ([]byte, BackupVersion, error) {
	v, err := r.selectVersion(path, version)
	if err != nil {
		return nil, BackupVersion{}, err
	}

	data := make([]byte, 0, v.Metadata.Size)
	for i, d := range v.BlockHashes {
		block, err := r.fetchBlock(d)
		if err != nil {
			return nil, BackupVersion{}, fmt.Errorf("block %d of %s version %d: %w", i, path, v.Version, err)
		}
		data = append(data, block...)
	}

	if got := digest.Sum(data); got != v.FileHash {
		return nil, BackupVersion{}, fmt.Errorf("%w: %s version %d reassembled to %s, recorded %s",
			ErrCorruptBlock, path, v.Version, got, v.FileHash)
	}
	return data, v, nil
}

func (r *RestoreEngine) selectVersion(path string, version *uint64) (BackupVersion, error) {
	info, err := r.versions.History(path)
	if err != nil {
		return BackupVersion{}, err
	}
	if info == nil || len(info.Versions) == 0 {
		return BackupVersion{}, fmt.Errorf("%w: %s", ErrNoBackups, path)
	}

	if version == nil {
		return *info.Latest(), nil
	}
	v := info.Find(*version)
	if v == nil {
		return BackupVersion{}, fmt.Errorf("%w: %s version %d", ErrVersionNotFound, path, *version)
	}
	return *v, nil
}

func (r *RestoreEngine) fetchBlock(d string) ([]byte, error) {
	payload, err := r.store.Get(d)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrBlockMissing, d)
		}
		return nil, wrapIO("fetching block "+d, err)
	}
	block, err := r.codec.decode(payload)
	if err != nil {
		return nil, err
	}
	if digest.Sum(block) != d {
		return nil, fmt.Errorf("%w: block content does not match digest %s", ErrCorruptBlock, d)
	}
	return block, nil
}

// writeAtomic writes data to a temp file beside target, applies the recorded
// permissions and mtime, then renames it over target.
func writeAtomic(target string, data []byte, meta FileMetadata) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: creating parent directory: %w", ErrIO, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".restore-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %w", ErrIO, err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing temp file: %w", ErrIO, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: syncing temp file: %w", ErrIO, err)
	}
	if meta.Permissions != 0 {
		if err := tmp.Chmod(meta.Permissions.Perm()); err != nil {
			tmp.Close()
			return fmt.Errorf("%w: setting permissions: %w", ErrIO, err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing temp file: %w", ErrIO, err)
	}
	if !meta.ModifiedAt.IsZero() {
		if err := os.Chtimes(tmpPath, meta.ModifiedAt, meta.ModifiedAt); err != nil {
			return fmt.Errorf("%w: setting modification time: %w", ErrIO, err)
		}
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("%w: replacing %s: %w", ErrIO, target, err)
	}

	success = true
	return nil
}
