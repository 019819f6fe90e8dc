package guard

import (
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"medguard/internal/digest"
)

// AlertThreshold is the score at which CheckThreat raises an alert.
const AlertThreshold = 70

// Factor weights.
const (
	rapidChangeScore = 30
	suspiciousScore  = 20
	entropyScore     = 40
	massRenameScore  = 10
)

// massRename thresholds: more than massRenamePatterns extensions that each
// appear more than massRenamePerExt times in the window.
const (
	massRenamePerExt   = 3
	massRenamePatterns = 5
)

// DetectorConfig holds the tunable scoring parameters.
type DetectorConfig struct {
	Window               time.Duration
	RapidChangeThreshold int
	EntropyThreshold     float64
	SuspiciousExtensions []string
	TrackedFiles         int
}

// DefaultDetectorConfig returns the stock scoring parameters.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Window:               60 * time.Second,
		RapidChangeThreshold: 50,
		EntropyThreshold:     7.5,
		SuspiciousExtensions: []string{".locked", ".encrypted", ".crypto", ".crypt", ".enc"},
		TrackedFiles:         10000,
	}
}

// Assessment is a threat score and the reasons that contributed to it.
type Assessment struct {
	Score   int      `json:"score"`
	Reasons []string `json:"reasons"`
}

// windowEntry is a queued event plus the entropy sampled when it was processed.
type windowEntry struct {
	event   FileEvent
	entropy float64
	sampled bool
}

// Detector scores file-change activity inside a sliding time window.
// ProcessEvent takes the write lock; every read takes the read lock, so
// readers never observe a partially updated window.
type Detector struct {
	cfg        DetectorConfig
	suspicious map[string]bool
	fs         FilesystemManager
	clock      Clock
	ids        IDGenerator

	mu        sync.RWMutex
	window    []windowEntry
	states    *lru.Cache[string, FileState]
	processed uint64
}

// NewDetector creates a Detector.
func NewDetector(cfg DetectorConfig, fsm FilesystemManager, clock Clock, ids IDGenerator) (*Detector, error) {
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("detector window must be positive, got %v", cfg.Window)
	}
	if cfg.TrackedFiles <= 0 {
		cfg.TrackedFiles = DefaultDetectorConfig().TrackedFiles
	}
	states, err := lru.New[string, FileState](cfg.TrackedFiles)
	if err != nil {
		return nil, fmt.Errorf("creating file state cache: %w", err)
	}

	suspicious := make(map[string]bool, len(cfg.SuspiciousExtensions))
	for _, ext := range cfg.SuspiciousExtensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		suspicious[ext] = true
	}

	return &Detector{
		cfg:        cfg,
		suspicious: suspicious,
		fs:         fsm,
		clock:      clock,
		ids:        ids,
		states:     states,
	}, nil
}

// ProcessEvent adds event to the window and evicts events older than the window.
// The file is sampled before the lock is taken.
func (d *Detector) ProcessEvent(event FileEvent) {
	entry := windowEntry{event: event}
	state, haveState := d.sample(event, &entry)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.window = append(d.window, entry)
	d.processed++

	switch {
	case event.Kind == EventDeleted:
		d.states.Remove(event.Path)
	case haveState:
		d.states.Add(event.Path, state)
	}

	cutoff := d.clock.Now().Add(-d.cfg.Window)
	drop := 0
	for drop < len(d.window) && d.window[drop].event.Timestamp.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		d.window = append(d.window[:0:0], d.window[drop:]...)
	}
}

// sample stats the file and reads its prefix. Missing or unreadable files
// leave the entry unsampled, which makes the entropy factor neutral.
func (d *Detector) sample(event FileEvent, entry *windowEntry) (FileState, bool) {
	if event.Kind == EventDeleted {
		return FileState{}, false
	}
	info, err := d.fs.Stat(event.Path)
	if err != nil || !info.Mode().IsRegular() {
		return FileState{}, false
	}
	f, err := d.fs.Open(event.Path)
	if err != nil {
		return FileState{}, false
	}
	defer f.Close()

	prefix, err := readSample(f)
	if err != nil {
		return FileState{}, false
	}

	entry.entropy = ShannonEntropy(prefix)
	entry.sampled = true
	return FileState{
		ModifiedAt: info.ModTime(),
		Size:       info.Size(),
		Digest:     digest.Sum(prefix),
	}, true
}

// Assess scores the current window without modifying it.
func (d *Detector) Assess() Assessment {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, _ := d.assessLocked()
	return a
}

// assessLocked returns the assessment and the newest event in the window.
func (d *Detector) assessLocked() (Assessment, *FileEvent) {
	a := Assessment{Reasons: []string{}}

	cutoff := d.clock.Now().Add(-d.cfg.Window)
	live := d.window
	for len(live) > 0 && live[0].event.Timestamp.Before(cutoff) {
		live = live[1:]
	}
	if len(live) == 0 {
		return a, nil
	}

	if n := len(live); n > d.cfg.RapidChangeThreshold {
		a.Score += rapidChangeScore
		a.Reasons = append(a.Reasons, fmt.Sprintf("rapid file changes: %d files/window", n))
	}

	suspicious := 0
	histogram := make(map[string]int)
	for _, e := range live {
		ext := fileExtension(e.event.Path)
		if ext == "" {
			continue
		}
		histogram[ext]++
		if d.suspicious[ext] {
			suspicious++
		}
	}
	if suspicious > 0 {
		a.Score += suspiciousScore
		a.Reasons = append(a.Reasons, fmt.Sprintf("suspicious extensions: %d files", suspicious))
	}

	newest := live[len(live)-1]
	if newest.sampled && newest.entropy > d.cfg.EntropyThreshold {
		a.Score += entropyScore
		a.Reasons = append(a.Reasons, fmt.Sprintf("high entropy detected: %.2f bits/byte", newest.entropy))
	}

	patterns := 0
	for _, count := range histogram {
		if count > massRenamePerExt {
			patterns++
		}
	}
	if patterns > massRenamePatterns {
		a.Score += massRenameScore
		a.Reasons = append(a.Reasons, fmt.Sprintf("mass file renaming: %d patterns", patterns))
	}

	event := newest.event
	return a, &event
}

// CheckThreat returns an alert when the current score reaches AlertThreshold, or nil.
func (d *Detector) CheckThreat() *ThreatAlert {
	d.mu.RLock()
	a, newest := d.assessLocked()
	d.mu.RUnlock()

	if newest == nil || a.Score < AlertThreshold {
		return nil
	}

	return &ThreatAlert{
		ID:          d.ids.New(),
		Timestamp:   d.clock.Now(),
		Score:       a.Score,
		Reasons:     a.Reasons,
		Description: strings.Join(a.Reasons, "; "),
		FilePath:    newest.Path,
		ThreatType:  ThreatTypeRansomware,
	}
}

// WindowSize returns the number of events currently queued.
func (d *Detector) WindowSize() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.window)
}

// FilesMonitored returns how many distinct paths have live state.
func (d *Detector) FilesMonitored() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.states.Len()
}

// EventsProcessed returns the total number of events seen.
func (d *Detector) EventsProcessed() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.processed
}

// FileState returns the last sampled state of path.
func (d *Detector) FileState(path string) (FileState, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.states.Peek(path)
}
