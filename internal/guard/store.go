package guard

// ObjectStore is content-addressed block storage keyed by digest.
// Implementations must tolerate concurrent writes, including concurrent
// writes of the same digest (identical digest implies identical bytes).
type ObjectStore interface {
	// PutIfAbsent stores payload under digest. If an object with that digest
	// already exists the call is a no-op.
	PutIfAbsent(digest string, payload []byte) error

	// Get returns the payload stored under digest, or ErrObjectNotFound.
	Get(digest string) ([]byte, error)

	// Has reports whether an object with the digest exists.
	Has(digest string) (bool, error)

	// Stats returns the number of stored objects and their total payload size.
	Stats() (StoreStats, error)
}

// StoreStats summarizes the contents of an ObjectStore.
type StoreStats struct {
	Objects int64 `json:"objects"`
	Bytes   int64 `json:"bytes"`
}

// ManifestStore persists one BackupInfo record per source path.
type ManifestStore interface {
	// Load returns the history for path. A path with no history returns
	// (nil, nil). A record that exists but cannot be decoded returns an error
	// wrapping ErrManifestUnreadable.
	Load(path string) (*BackupInfo, error)

	// Save replaces the stored history for info.FilePath.
	Save(info *BackupInfo) error

	// List returns every stored history, ordered by path.
	List() ([]*BackupInfo, error)

	// Close releases any underlying resources.
	Close() error
}

// Sealer is the authenticated encryption boundary used for block payloads.
type Sealer interface {
	// Seal encrypts plaintext under a fresh nonce and returns nonce||ciphertext.
	Seal(plaintext []byte) ([]byte, error)

	// Open reverses Seal. Authentication failure returns an error wrapping ErrCorruptBlock.
	Open(sealed []byte) ([]byte, error)
}

// Compressor is the general-purpose compression boundary used for block payloads.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// AlertSink receives alerts as they are raised.
type AlertSink interface {
	Publish(alert ThreatAlert) error
}
