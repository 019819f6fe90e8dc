package guard

import (
	"io/fs"
	"strings"
	"time"
)

// EventKind is the kind of change reported by the event source.
type EventKind int

const (
	EventCreated EventKind = iota
	EventModified
	EventDeleted
)

// String returns the lowercase name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventModified:
		return "modified"
	case EventDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// FileEvent is one observed filesystem change.
type FileEvent struct {
	Path      string
	Kind      EventKind
	Timestamp time.Time
}

// ThreatTypeRansomware is the threat type carried by every alert the detector raises.
const ThreatTypeRansomware = "Ransomware"

// ThreatAlert is a detection result produced when the threat score reaches the alert threshold.
type ThreatAlert struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Score       int       `json:"score"`
	Reasons     []string  `json:"reasons"`
	Description string    `json:"description"`
	FilePath    string    `json:"file_path"`
	ThreatType  string    `json:"threat_type"`
}

// FileMetadata is the stat information captured alongside a backup version.
type FileMetadata struct {
	Size        int64       `json:"size"`
	Permissions fs.FileMode `json:"permissions"`
	ModifiedAt  time.Time   `json:"modified"`
}

// BackupVersion is one point-in-time backup of one file.
// Version is 0 until the VersionManager assigns it.
type BackupVersion struct {
	Version     uint64       `json:"version"`
	Timestamp   time.Time    `json:"timestamp"`
	FileHash    string       `json:"file_hash"`
	BlockHashes []string     `json:"block_hashes"`
	Metadata    FileMetadata `json:"metadata"`
}

// BackupInfo is the ordered backup history of a single source path.
type BackupInfo struct {
	FilePath string          `json:"file_path"`
	Versions []BackupVersion `json:"versions"`
}

// Latest returns the most recent version, or nil if there is no history.
func (b *BackupInfo) Latest() *BackupVersion {
	if b == nil || len(b.Versions) == 0 {
		return nil
	}
	return &b.Versions[len(b.Versions)-1]
}

// Find returns the version with the given number, or nil.
func (b *BackupInfo) Find(version uint64) *BackupVersion {
	if b == nil {
		return nil
	}
	for i := range b.Versions {
		if b.Versions[i].Version == version {
			return &b.Versions[i]
		}
	}
	return nil
}

// FileState is the last observed identity of a watched path.
type FileState struct {
	ModifiedAt time.Time
	Size       int64
	Digest     string // digest of the sampled prefix
}

// fileExtension returns the lowercase extension of path including the leading dot,
// or "" if the base name has none.
func fileExtension(path string) string {
	base := path
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	i := strings.LastIndexByte(base, '.')
	if i <= 0 {
		return ""
	}
	return strings.ToLower(base[i:])
}
