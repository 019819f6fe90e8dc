package guard

import (
	"errors"
	"fmt"
)

// RetentionPolicy bounds how many versions are kept per path. When a history
// grows past Cap, the oldest Batch versions are dropped together.
type RetentionPolicy struct {
	Cap   int
	Batch int
}

// DefaultRetention keeps at most 100 versions, trimming 10 at a time.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{Cap: 100, Batch: 10}
}

// apply trims versions from the front. Order of the survivors is preserved.
func (p RetentionPolicy) apply(versions []BackupVersion) []BackupVersion {
	if p.Cap <= 0 || p.Batch <= 0 {
		return versions
	}
	for len(versions) > p.Cap {
		n := min(p.Batch, len(versions))
		versions = append(versions[:0:0], versions[n:]...)
	}
	return versions
}

// VersionManager numbers backups per path, skips unchanged content, applies
// retention, and persists each path's history through a ManifestStore.
type VersionManager struct {
	store  ManifestStore
	policy RetentionPolicy
	logger Logger
	locks  *keyedMutex
}

// NewVersionManager creates a VersionManager over store.
func NewVersionManager(store ManifestStore, policy RetentionPolicy, logger Logger) *VersionManager {
	return &VersionManager{
		store:  store,
		policy: policy,
		logger: logger,
		locks:  newKeyedMutex(),
	}
}

// RecordBackup appends v to the history of path unless its content hash equals
// the latest version's. It returns the recorded (or existing latest) version and
// whether a new version was added. The whole read-modify-write runs under a
// per-path lock.
func (m *VersionManager) RecordBackup(path string, v BackupVersion) (BackupVersion, bool, error) {
	unlock := m.locks.Lock(path)
	defer unlock()

	info, err := m.load(path)
	if err != nil {
		return BackupVersion{}, false, err
	}

	latest := info.Latest()
	if latest != nil && latest.FileHash == v.FileHash {
		return *latest, false, nil
	}

	v.Version = 1
	if latest != nil {
		v.Version = latest.Version + 1
	}
	info.Versions = m.policy.apply(append(info.Versions, v))

	if err := m.store.Save(info); err != nil {
		return BackupVersion{}, false, wrapIO(fmt.Sprintf("saving history for %s", path), err)
	}

	m.logger.Debug("recorded backup version", "path", path, "version", v.Version, "retained", len(info.Versions))
	return v, true, nil
}

// ListVersions returns the retained versions of path, oldest first.
// A path with no history yields an empty list.
func (m *VersionManager) ListVersions(path string) ([]BackupVersion, error) {
	info, err := m.load(path)
	if err != nil {
		return nil, err
	}
	if info.Versions == nil {
		return []BackupVersion{}, nil
	}
	return info.Versions, nil
}

// History returns the stored history of path as-is, or nil if there is none.
// Unlike ListVersions, an unreadable manifest is reported to the caller.
func (m *VersionManager) History(path string) (*BackupInfo, error) {
	info, err := m.store.Load(path)
	if err != nil {
		if errors.Is(err, ErrManifestUnreadable) {
			return nil, err
		}
		return nil, wrapIO(fmt.Sprintf("loading history for %s", path), err)
	}
	return info, nil
}

// ListBackups returns the history of every backed-up path, ordered by path.
func (m *VersionManager) ListBackups() ([]BackupInfo, error) {
	infos, err := m.store.List()
	if err != nil {
		return nil, wrapIO("listing backups", err)
	}
	out := make([]BackupInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, *info)
	}
	return out, nil
}

// IncrementalChanges compares current block digests with the latest version of path.
// With no history every block counts as changed.
func (m *VersionManager) IncrementalChanges(path string, current []string) ([]int, error) {
	info, err := m.load(path)
	if err != nil {
		return nil, err
	}
	var previous []string
	if latest := info.Latest(); latest != nil {
		previous = latest.BlockHashes
	}
	return ChangedBlocks(current, previous), nil
}

// load returns the history of path, treating a missing or unreadable manifest as empty.
func (m *VersionManager) load(path string) (*BackupInfo, error) {
	info, err := m.store.Load(path)
	if err != nil {
		if errors.Is(err, ErrManifestUnreadable) {
			m.logger.Warn("ignoring unreadable manifest", "path", path, "error", err)
			return &BackupInfo{FilePath: path}, nil
		}
		return nil, wrapIO(fmt.Sprintf("loading history for %s", path), err)
	}
	if info == nil {
		return &BackupInfo{FilePath: path}, nil
	}
	return info, nil
}

// wrapIO tags err with ErrIO unless it already carries it.
func wrapIO(msg string, err error) error {
	if errors.Is(err, ErrIO) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrIO, msg, err)
}
