package testutil

import (
	"testing"

	"medguard/internal/compression"
	"medguard/internal/database"
	"medguard/internal/encryption"
	"medguard/internal/objectstore"
)

// NewTestObjectStore creates an empty in-memory object store.
func NewTestObjectStore() *objectstore.MemoryStore {
	return objectstore.NewMemoryStore()
}

// NewTestManifestStore creates an in-memory SQLite manifest store with the
// schema applied. It is closed when the test completes.
func NewTestManifestStore(t *testing.T) *database.SQLiteManifestStore {
	t.Helper()
	s, err := database.NewSQLiteManifestStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open manifest store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// NewTestSealer creates an AES-256-GCM sealer with a random key.
func NewTestSealer(t *testing.T) *encryption.AEAD {
	t.Helper()
	key, err := encryption.GenerateKey(encryption.AES256GCM)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	a, err := encryption.NewAEAD(key)
	if err != nil {
		t.Fatalf("failed to create sealer: %v", err)
	}
	return a
}

// NewTestCompressor creates a zstd compressor released when the test completes.
func NewTestCompressor(t *testing.T) *compression.ZstdCompressor {
	t.Helper()
	c, err := compression.NewZstdCompressor("")
	if err != nil {
		t.Fatalf("failed to create compressor: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}
