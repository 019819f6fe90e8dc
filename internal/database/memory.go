package database

import (
	"sort"
	"sync"

	"medguard/internal/guard"
)

// MemoryManifestStore holds histories in a map. Useful for testing.
type MemoryManifestStore struct {
	mu    sync.RWMutex
	infos map[string]*guard.BackupInfo
}

var _ guard.ManifestStore = (*MemoryManifestStore)(nil)

func NewMemoryManifestStore() *MemoryManifestStore {
	return &MemoryManifestStore{infos: make(map[string]*guard.BackupInfo)}
}

func (m *MemoryManifestStore) Load(path string) (*guard.BackupInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.infos[path]
	if !ok {
		return nil, nil
	}
	return cloneInfo(info), nil
}

func (m *MemoryManifestStore) Save(info *guard.BackupInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(info.Versions) == 0 {
		delete(m.infos, info.FilePath)
		return nil
	}
	m.infos[info.FilePath] = cloneInfo(info)
	return nil
}

func (m *MemoryManifestStore) List() ([]*guard.BackupInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*guard.BackupInfo, 0, len(m.infos))
	for _, info := range m.infos {
		out = append(out, cloneInfo(info))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FilePath < out[j].FilePath })
	return out, nil
}

func (m *MemoryManifestStore) Close() error { return nil }

// cloneInfo deep-copies info so callers never share slices with the store.
func cloneInfo(info *guard.BackupInfo) *guard.BackupInfo {
	out := &guard.BackupInfo{FilePath: info.FilePath, Versions: make([]guard.BackupVersion, len(info.Versions))}
	for i, v := range info.Versions {
		v.BlockHashes = append([]string{}, v.BlockHashes...)
		out.Versions[i] = v
	}
	return out
}
