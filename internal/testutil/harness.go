package testutil

import (
	"testing"

	"medguard/internal/guard"
	"medguard/internal/objectstore"
)

// HarnessOptions tunes NewHarness. Zero values select defaults.
type HarnessOptions struct {
	Filesystem guard.FilesystemManager // defaults to a new MockFilesystemManager
	BlockSize  int
	Retention  guard.RetentionPolicy
	Detector   guard.DetectorConfig
	Workers    int
}

// Harness wires every engine over in-memory fakes.
type Harness struct {
	FS        guard.FilesystemManager
	MockFS    *MockFilesystemManager // nil when a custom Filesystem was supplied
	Store     *objectstore.MemoryStore
	Manifests guard.ManifestStore
	Clock     *StubClock
	IDs       *StubIDGenerator
	Sink      *RecordingSink

	Backup   *guard.BackupEngine
	Versions *guard.VersionManager
	Restore  *guard.RestoreEngine
	Detector *guard.Detector
	Alerts   *guard.AlertLog
	Service  *guard.Service
}

// NewHarness builds a Harness.
func NewHarness(t *testing.T, opts HarnessOptions) *Harness {
	t.Helper()

	h := &Harness{
		Store:     NewTestObjectStore(),
		Manifests: NewTestManifestStore(t),
		Clock:     FixedClock(),
		IDs:       NewStubIDGenerator(),
		Sink:      &RecordingSink{},
	}

	if opts.Filesystem != nil {
		h.FS = opts.Filesystem
	} else {
		h.MockFS = NewMockFilesystemManager()
		h.FS = h.MockFS
	}
	if opts.Retention == (guard.RetentionPolicy{}) {
		opts.Retention = guard.DefaultRetention()
	}
	if opts.Detector.Window == 0 {
		opts.Detector = guard.DefaultDetectorConfig()
	}

	sealer := NewTestSealer(t)
	compressor := NewTestCompressor(t)
	logger := guard.NewNopLogger()

	h.Backup = guard.NewBackupEngine(h.FS, h.Store, sealer, compressor, h.Clock, opts.BlockSize)
	h.Versions = guard.NewVersionManager(h.Manifests, opts.Retention, logger)
	h.Restore = guard.NewRestoreEngine(h.Versions, h.Store, sealer, compressor, logger)

	detector, err := guard.NewDetector(opts.Detector, h.FS, h.Clock, h.IDs)
	if err != nil {
		t.Fatalf("NewDetector() error = %v", err)
	}
	h.Detector = detector
	h.Alerts = guard.NewAlertLog(1000, 100)

	h.Service = guard.NewService(guard.ServiceOptions{
		Backup:     h.Backup,
		Versions:   h.Versions,
		Restore:    h.Restore,
		Detector:   h.Detector,
		Alerts:     h.Alerts,
		Store:      h.Store,
		Filesystem: h.FS,
		Sink:       h.Sink,
		Logger:     logger,
		Clock:      h.Clock,
		Workers:    opts.Workers,
	})
	return h
}
