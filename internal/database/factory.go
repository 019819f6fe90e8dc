package database

import (
	"fmt"
	"path/filepath"

	"medguard/internal/config"
	"medguard/internal/guard"
)

// NewManifestStoreFromConfig creates a ManifestStore based on the manifest config type.
func NewManifestStoreFromConfig(cfg config.ManifestConfig) (guard.ManifestStore, error) {
	switch cfg.Type {
	case "sqlite", "":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite manifest store")
		}
		s, err := NewSQLiteManifestStore(filepath.Join(cfg.DataDir, "manifests.db"))
		if err != nil {
			return nil, err
		}
		return s, nil
	case "filesystem":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for filesystem manifest store")
		}
		s, err := NewFileSystemManifestStore(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return NewMemoryManifestStore(), nil
	default:
		return nil, fmt.Errorf("unknown manifest store type: %s", cfg.Type)
	}
}
