package guard

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Service states reported by Status.
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateStopped = "stopped"
)

// DefaultWorkers is the number of backup workers used when none is configured.
const DefaultWorkers = 4

// ServiceOptions carries the collaborators of a Service.
// Sink and Recorder may be nil.
type ServiceOptions struct {
	Backup     *BackupEngine
	Versions   *VersionManager
	Restore    *RestoreEngine
	Detector   *Detector
	Alerts     *AlertLog
	Store      ObjectStore
	Filesystem FilesystemManager
	Sink       AlertSink
	Recorder   Recorder
	Logger     Logger
	Clock      Clock
	Workers    int
}

// Service is the orchestration layer: it feeds events to the detector,
// dispatches backups, and answers the operator-facing queries.
type Service struct {
	backup   *BackupEngine
	versions *VersionManager
	restore  *RestoreEngine
	detector *Detector
	alerts   *AlertLog
	store    ObjectStore
	fsmgr    FilesystemManager
	sink     AlertSink
	recorder Recorder
	logger   Logger
	clock    Clock
	workers  int

	state         atomic.Value // string
	backupsFailed atomic.Uint64

	pendingMu sync.Mutex
	pending   map[string]bool
}

// NewService creates a Service from opts.
func NewService(opts ServiceOptions) *Service {
	s := &Service{
		backup:   opts.Backup,
		versions: opts.Versions,
		restore:  opts.Restore,
		detector: opts.Detector,
		alerts:   opts.Alerts,
		store:    opts.Store,
		fsmgr:    opts.Filesystem,
		sink:     opts.Sink,
		recorder: opts.Recorder,
		logger:   opts.Logger,
		clock:    opts.Clock,
		workers:  opts.Workers,
		pending:  make(map[string]bool),
	}
	if s.recorder == nil {
		s.recorder = NopRecorder{}
	}
	if s.logger == nil {
		s.logger = NewNopLogger()
	}
	if s.clock == nil {
		s.clock = RealClock{}
	}
	if s.alerts == nil {
		s.alerts = NewAlertLog(0, 0)
	}
	if s.workers <= 0 {
		s.workers = DefaultWorkers
	}
	s.state.Store(StateIdle)
	return s
}

// Run consumes events until ctx is done or events is closed. Each event is
// scored first, then its path is queued for backup on the worker owning that
// path, so backups of one path run in arrival order. Backup failures are
// logged and counted; they never stop the loop. Run returns after the
// workers have drained.
//
// Every event reaches the detector exactly once. Backups are coalesced: an
// event for a path whose backup is still queued adds no second backup, since
// the queued one reads the file when it runs and so captures the later change.
func (s *Service) Run(ctx context.Context, events <-chan FileEvent) error {
	s.state.Store(StateRunning)
	defer s.state.Store(StateStopped)

	queues := make([]chan string, s.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan string, 256)
		wg.Add(1)
		go func(q <-chan string) {
			defer wg.Done()
			for path := range q {
				s.runQueuedBackup(path)
			}
		}(queues[i])
	}
	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}()

	s.logger.Info("event loop started", "workers", s.workers)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("event loop stopping", "reason", ctx.Err())
			return nil
		case event, ok := <-events:
			if !ok {
				s.logger.Info("event source closed")
				return nil
			}
			if !s.HandleEvent(event) {
				continue
			}
			if !s.markPending(event.Path) {
				continue
			}
			select {
			case queues[shard(event.Path, len(queues))] <- event.Path:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// HandleEvent runs detection for event and reports whether its path should be backed up.
func (s *Service) HandleEvent(event FileEvent) bool {
	s.detector.ProcessEvent(event)
	s.recorder.EventProcessed(event.Kind)

	s.recorder.ThreatScore(s.detector.Assess().Score)
	if alert := s.detector.CheckThreat(); alert != nil {
		s.raise(*alert)
	}

	if event.Kind == EventDeleted {
		return false
	}
	info, err := s.fsmgr.Stat(event.Path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return true
}

func (s *Service) raise(alert ThreatAlert) {
	s.alerts.Append(alert)
	s.recorder.AlertRaised(alert.Score)
	s.logger.Warn("threat detected",
		"score", alert.Score,
		"path", alert.FilePath,
		"reasons", alert.Description,
		"alert_id", alert.ID,
	)
	if s.sink != nil {
		if err := s.sink.Publish(alert); err != nil {
			s.logger.Error("publishing alert failed", "alert_id", alert.ID, "error", err)
		}
	}
}

// markPending returns false if path is already waiting for a worker.
// The mark is cleared when the worker starts, so a change made during a
// running backup queues another one.
func (s *Service) markPending(path string) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if s.pending[path] {
		return false
	}
	s.pending[path] = true
	return true
}

func (s *Service) clearPending(path string) {
	s.pendingMu.Lock()
	delete(s.pending, path)
	s.pendingMu.Unlock()
}

func (s *Service) runQueuedBackup(path string) {
	s.clearPending(path)

	if _, _, err := s.Backup(path); err != nil {
		s.logger.Error("backup failed", "path", path, "kind", ErrorKind(err), "error", err)
	}
}

func shard(path string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(path))
	return int(h.Sum32() % uint32(n))
}

// Backup backs up path now. It returns the latest version and whether a new
// version was created (false when the content matches the latest version).
func (s *Service) Backup(path string) (BackupVersion, bool, error) {
	start := s.clock.Now()

	v, err := s.backup.CreateBackup(path)
	if err != nil {
		s.backupsFailed.Add(1)
		s.recorder.BackupFailed(ErrorKind(err))
		return BackupVersion{}, false, err
	}

	recorded, created, err := s.versions.RecordBackup(path, v)
	if err != nil {
		s.backupsFailed.Add(1)
		s.recorder.BackupFailed(ErrorKind(err))
		return BackupVersion{}, false, err
	}

	s.recorder.BackupCompleted(created, s.clock.Now().Sub(start))
	if created {
		s.logger.Info("backup created", "path", path, "version", recorded.Version, "blocks", len(recorded.BlockHashes), "size", recorded.Metadata.Size)
	} else {
		s.logger.Debug("backup unchanged", "path", path, "version", recorded.Version)
	}
	return recorded, created, nil
}

// Restore restores path in place. A nil version selects the latest.
func (s *Service) Restore(path string, version *uint64) (BackupVersion, error) {
	return s.RestoreTo(path, version, path)
}

// RestoreTo restores the selected version of path to target.
func (s *Service) RestoreTo(path string, version *uint64, target string) (BackupVersion, error) {
	start := s.clock.Now()
	v, err := s.restore.RestoreTo(path, version, target)
	if err != nil {
		s.recorder.RestoreFailed(ErrorKind(err))
		s.logger.Error("restore failed", "path", path, "target", target, "kind", ErrorKind(err), "error", err)
		return BackupVersion{}, err
	}
	s.recorder.RestoreCompleted(s.clock.Now().Sub(start))
	return v, nil
}

// ListVersions returns the retained versions of path, oldest first.
func (s *Service) ListVersions(path string) ([]BackupVersion, error) {
	return s.versions.ListVersions(path)
}

// ListBackups returns the history of every backed-up path.
func (s *Service) ListBackups() ([]BackupInfo, error) {
	return s.versions.ListBackups()
}

// IncrementalChanges reports which blocks of the file at path differ from its latest version.
func (s *Service) IncrementalChanges(path string) ([]int, error) {
	f, err := s.fsmgr.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrIO, path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrIO, path, err)
	}
	return s.versions.IncrementalChanges(path, BlockHashes(data, s.backup.BlockSize()))
}

// CurrentThreatScore returns the score of the current window.
func (s *Service) CurrentThreatScore() Assessment {
	return s.detector.Assess()
}

// RecentAlerts returns up to limit alerts, newest first.
func (s *Service) RecentAlerts(limit int) []ThreatAlert {
	return s.alerts.Recent(limit)
}

// Status is a point-in-time summary of the service.
type Status struct {
	State           string    `json:"state"`
	Timestamp       time.Time `json:"timestamp"`
	EventsProcessed uint64    `json:"events_processed"`
	FilesTracked    int       `json:"files_tracked"`
	WindowEvents    int       `json:"window_events"`
	ThreatsDetected uint64    `json:"threats_detected"`
	ThreatScore     int       `json:"threat_score"`
	BackedUpFiles   int       `json:"backed_up_files"`
	BackupVersions  int       `json:"backup_versions"`
	BackupsFailed   uint64    `json:"backups_failed"`
	StoredObjects   int64     `json:"stored_objects"`
	StoredBytes     int64     `json:"stored_bytes"`
}

// Status gathers counters from the detector, alert log, and stores.
func (s *Service) Status() (Status, error) {
	st := Status{
		State:           s.state.Load().(string),
		Timestamp:       s.clock.Now(),
		EventsProcessed: s.detector.EventsProcessed(),
		FilesTracked:    s.detector.FilesMonitored(),
		WindowEvents:    s.detector.WindowSize(),
		ThreatsDetected: s.alerts.Total(),
		ThreatScore:     s.detector.Assess().Score,
		BackupsFailed:   s.backupsFailed.Load(),
	}

	backups, err := s.versions.ListBackups()
	if err != nil {
		return st, err
	}
	st.BackedUpFiles = len(backups)
	for _, b := range backups {
		st.BackupVersions += len(b.Versions)
	}

	stats, err := s.store.Stats()
	if err != nil {
		return st, fmt.Errorf("object store stats: %w", err)
	}
	st.StoredObjects = stats.Objects
	st.StoredBytes = stats.Bytes
	return st, nil
}
