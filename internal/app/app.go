package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"medguard/internal/api"
	"medguard/internal/compression"
	"medguard/internal/config"
	"medguard/internal/database"
	"medguard/internal/encryption"
	"medguard/internal/fs"
	"medguard/internal/guard"
	"medguard/internal/metrics"
	"medguard/internal/notify"
	"medguard/internal/objectstore"
	"medguard/internal/watch"
)

// ErrKeyNotLoaded is returned by backup and restore when the app was opened
// without a passphrase source.
var ErrKeyNotLoaded = errors.New("encryption key not loaded")

// MGApp is the application layer between the CLI and guard.Service.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string paths, and releases every resource on Close.
type MGApp struct {
	cfg        *config.Config
	logger     guard.Logger
	logFile    *os.File
	fsmgr      *fs.OSFilesystemManager
	filter     *fs.Filter
	store      guard.ObjectStore
	manifests  guard.ManifestStore
	compressor guard.Compressor
	metrics    *metrics.Metrics
	sink       notify.Sink
	service    *guard.Service
}

// NewMGApp creates a fully wired MGApp from cfg. operation names the CLI
// command and is recorded in every log line. passphrase unlocks the key
// file; pass nil for read-only commands that never touch block contents.
// The caller must call Close when done.
func NewMGApp(ctx context.Context, cfg *config.Config, operation string, passphrase encryption.PassphraseFunc) (*MGApp, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	session := operation + "-" + guard.UUIDGenerator{}.New()[:8]
	sl, logFile, err := newLogger(cfg.LogDir, session, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a := &MGApp{cfg: cfg, logger: &slogAdapter{l: sl}, logFile: logFile, fsmgr: fs.NewOSFilesystemManager()}

	if err := a.init(ctx, passphrase); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *MGApp) init(ctx context.Context, passphrase encryption.PassphraseFunc) error {
	cfg := a.cfg

	filter, err := fs.LoadFilter(cfg.Monitoring.WatchPaths, cfg.Monitoring.FileExtensions, cfg.Monitoring.Ignore)
	if err != nil {
		return fmt.Errorf("loading ignore patterns: %w", err)
	}
	a.filter = filter

	store, err := objectstore.NewObjectStoreFromConfig(ctx, cfg.ObjectStore)
	if err != nil {
		return fmt.Errorf("creating object store: %w", err)
	}
	if v, ok := store.(interface{ ValidateSetup() error }); ok {
		if err := v.ValidateSetup(); err != nil {
			return fmt.Errorf("object store not usable: %w", err)
		}
	}
	a.store = store

	manifests, err := database.NewManifestStoreFromConfig(cfg.Manifest)
	if err != nil {
		return fmt.Errorf("creating manifest store: %w", err)
	}
	a.manifests = manifests
	if m, ok := manifests.(interface{ CheckMigrations() error }); ok {
		if err := m.CheckMigrations(); err != nil {
			return fmt.Errorf("manifest schema: %w", err)
		}
	}

	compressor, err := compression.NewCompressorFromConfig(cfg.Backup)
	if err != nil {
		return fmt.Errorf("creating compressor: %w", err)
	}
	a.compressor = compressor

	var sealer guard.Sealer = lockedSealer{}
	if passphrase != nil {
		s, err := encryption.NewSealerFromConfig(cfg.Encryption, passphrase, a.logger)
		if err != nil {
			return fmt.Errorf("creating sealer: %w", err)
		}
		sealer = s
	}

	a.metrics = metrics.NewMetrics()
	sink, err := notify.NewSinkFromConfig(cfg, a.logger)
	if err != nil {
		return fmt.Errorf("creating alert sink: %w", err)
	}
	a.sink = sink

	clock := guard.RealClock{}
	detector, err := guard.NewDetector(guard.DetectorConfig{
		Window:               time.Duration(cfg.Detection.TimeWindowSeconds) * time.Second,
		RapidChangeThreshold: cfg.Detection.RapidChangeThreshold,
		EntropyThreshold:     cfg.Detection.EntropyThreshold,
		SuspiciousExtensions: cfg.Detection.SuspiciousExtensions,
		TrackedFiles:         cfg.Detection.TrackedFiles,
	}, a.fsmgr, clock, guard.UUIDGenerator{})
	if err != nil {
		return fmt.Errorf("creating detector: %w", err)
	}

	versions := guard.NewVersionManager(manifests, guard.RetentionPolicy{
		Cap:   cfg.Backup.RetentionCap,
		Batch: cfg.Backup.RetentionBatch,
	}, a.logger)

	a.service = guard.NewService(guard.ServiceOptions{
		Backup:     guard.NewBackupEngine(a.fsmgr, store, sealer, compressor, clock, cfg.Backup.BlockSize),
		Versions:   versions,
		Restore:    guard.NewRestoreEngine(versions, store, sealer, compressor, a.logger),
		Detector:   detector,
		Alerts:     guard.NewAlertLog(cfg.Alerts.MaxAlerts, cfg.Alerts.TrimBatch),
		Store:      store,
		Filesystem: a.fsmgr,
		Sink:       sink,
		Recorder:   a.metrics,
		Logger:     a.logger,
		Clock:      clock,
		Workers:    cfg.Backup.Workers,
	})
	return nil
}

// Service returns the wired protection service.
func (a *MGApp) Service() *guard.Service { return a.service }

// BackupResult is the outcome of backing up one file.
type BackupResult struct {
	Path    string
	Version guard.BackupVersion
	Created bool
	Err     error
}

// Backup backs up rawPath. A directory is expanded to every file under it that
// passes the monitoring filter. Per-file failures are reported in the results;
// the returned error covers resolving rawPath only.
func (a *MGApp) Backup(rawPath string) ([]BackupResult, error) {
	abs, info, err := a.fsmgr.Resolve(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	paths := []string{abs}
	if info.IsDir() {
		paths, err = a.fsmgr.FindFiles(abs, a.filter)
		if err != nil {
			return nil, err
		}
	}

	results := make([]BackupResult, 0, len(paths))
	for _, p := range paths {
		v, created, err := a.service.Backup(p)
		results = append(results, BackupResult{Path: p, Version: v, Created: created, Err: err})
	}
	return results, nil
}

// Restore restores rawPath. A nil version selects the latest; an empty
// output restores in place.
func (a *MGApp) Restore(rawPath string, version *uint64, output string) (guard.BackupVersion, error) {
	abs, err := filepath.Abs(rawPath)
	if err != nil {
		return guard.BackupVersion{}, fmt.Errorf("resolving path: %w", err)
	}
	if output == "" {
		return a.service.Restore(abs, version)
	}
	target, err := filepath.Abs(output)
	if err != nil {
		return guard.BackupVersion{}, fmt.Errorf("resolving output path: %w", err)
	}
	return a.service.RestoreTo(abs, version, target)
}

// Versions returns the retained versions of rawPath, oldest first.
func (a *MGApp) Versions(rawPath string) ([]guard.BackupVersion, error) {
	abs, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	return a.service.ListVersions(abs)
}

// Changes returns the block indices of rawPath that differ from its latest version.
func (a *MGApp) Changes(rawPath string) ([]int, error) {
	abs, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	return a.service.IncrementalChanges(abs)
}

// Backups returns every backed-up path with its history.
func (a *MGApp) Backups() ([]guard.BackupInfo, error) {
	return a.service.ListBackups()
}

// Status returns the service status.
func (a *MGApp) Status() (guard.Status, error) {
	return a.service.Status()
}

// Run watches the configured paths and serves the API until ctx is done.
func (a *MGApp) Run(ctx context.Context) error {
	w, err := watch.New(watch.Options{
		Roots:      a.cfg.Monitoring.WatchPaths,
		Filter:     a.filter,
		BufferSize: a.cfg.Monitoring.EventBufferSize,
		Logger:     a.logger,
	})
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg     sync.WaitGroup
		errMu  sync.Mutex
		runErr error
	)
	fail := func(err error) {
		errMu.Lock()
		if runErr == nil {
			runErr = err
		}
		errMu.Unlock()
		cancel()
	}

	if a.cfg.API.Enabled {
		scope := api.Scope{Filter: a.filter, RestoreDir: a.cfg.API.RestoreDir}
		srv := api.NewServer(a.service, scope, a.metrics.Handler(), a.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(ctx, a.cfg.API.Listen); err != nil {
				fail(err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-w.Errors():
				if !ok {
					return
				}
				a.logger.Warn("watch error", "error", err)
			}
		}
	}()

	a.logger.Info("protection started", "paths", len(a.cfg.Monitoring.WatchPaths), "api", a.cfg.API.Enabled)
	if err := a.service.Run(ctx, w.Events()); err != nil {
		fail(err)
	}
	cancel()
	wg.Wait()
	a.logger.Info("protection stopped")
	return runErr
}

// Close releases every resource. It is safe to call on a partially built app.
func (a *MGApp) Close() error {
	var errs []error
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing alert sink: %w", err))
		}
	}
	if a.manifests != nil {
		if err := a.manifests.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing manifest store: %w", err))
		}
	}
	if c, ok := a.compressor.(interface{ Close() }); ok {
		c.Close()
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return errors.Join(errs...)
}

// InitKey creates the key file named by cfg. It refuses to replace an existing key.
func InitKey(cfg *config.Config, algorithm, passphrase string) (string, error) {
	alg, err := encryption.ParseAlgorithm(algorithm)
	if err != nil {
		return "", err
	}
	kf := encryption.NewKeyFile(cfg.Encryption.KeyPath)
	if _, err := kf.Create(alg, passphrase); err != nil {
		return "", err
	}
	return kf.Path(), nil
}

// lockedSealer stands in for the real sealer in read-only sessions.
type lockedSealer struct{}

func (lockedSealer) Seal([]byte) ([]byte, error) { return nil, ErrKeyNotLoaded }
func (lockedSealer) Open([]byte) ([]byte, error) { return nil, ErrKeyNotLoaded }
