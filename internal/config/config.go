package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the main configuration for medguard.
type Config struct {
	BaseDir     string            `toml:"base_dir" yaml:"base_dir"`
	LogDir      string            `toml:"log_dir" yaml:"log_dir"`
	LogLevel    string            `toml:"log_level" yaml:"log_level"` // "debug", "info", "warn", "error"
	Monitoring  MonitoringConfig  `toml:"monitoring" yaml:"monitoring"`
	Detection   DetectionConfig   `toml:"detection" yaml:"detection"`
	Backup      BackupConfig      `toml:"backup" yaml:"backup"`
	Encryption  EncryptionConfig  `toml:"encryption" yaml:"encryption"`
	ObjectStore ObjectStoreConfig `toml:"object_store" yaml:"object_store"`
	Manifest    ManifestConfig    `toml:"manifest" yaml:"manifest"`
	Alerts      AlertsConfig      `toml:"alerts" yaml:"alerts"`
	API         APIConfig         `toml:"api" yaml:"api"`
}

// MonitoringConfig controls which paths are watched and which events are kept.
type MonitoringConfig struct {
	WatchPaths      []string `toml:"watch_paths" yaml:"watch_paths"`
	FileExtensions  []string `toml:"file_extensions" yaml:"file_extensions"` // empty = every extension
	Ignore          []string `toml:"ignore" yaml:"ignore"`
	EventBufferSize int      `toml:"event_buffer_size" yaml:"event_buffer_size"`
}

// DetectionConfig holds the threat scoring parameters.
type DetectionConfig struct {
	EntropyThreshold     float64  `toml:"entropy_threshold" yaml:"entropy_threshold"`
	RapidChangeThreshold int      `toml:"rapid_change_threshold" yaml:"rapid_change_threshold"`
	SuspiciousExtensions []string `toml:"suspicious_extensions" yaml:"suspicious_extensions"`
	TimeWindowSeconds    int      `toml:"time_window_seconds" yaml:"time_window_seconds"`
	TrackedFiles         int      `toml:"tracked_files" yaml:"tracked_files"` // size of the per-path state cache
}

// BackupConfig holds chunking, retention, and worker settings.
type BackupConfig struct {
	BlockSize        int    `toml:"block_size" yaml:"block_size"`
	RetentionCap     int    `toml:"retention_versions" yaml:"retention_versions"`
	RetentionBatch   int    `toml:"retention_batch" yaml:"retention_batch"`
	Compression      string `toml:"compression" yaml:"compression"`             // "zstd" (default) or "none"
	CompressionLevel string `toml:"compression_level" yaml:"compression_level"` // zstd level name
	Workers          int    `toml:"workers" yaml:"workers"`
}

// EncryptionConfig selects the block cipher and where its key lives.
type EncryptionConfig struct {
	Mode      string `toml:"mode" yaml:"mode"`           // "keyfile" (default) or "ephemeral"
	Algorithm string `toml:"algorithm" yaml:"algorithm"` // used when a key is created
	KeyPath   string `toml:"key_path" yaml:"key_path"`
}

// ObjectStoreConfig represents configuration for the block store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ObjectStoreConfig struct {
	Type string `toml:"type" yaml:"type"` // "filesystem", "memory", or "s3"

	// FileSystem-specific fields (only used when Type == "filesystem")
	Root string `toml:"root,omitempty" yaml:"root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty" yaml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty" yaml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty" yaml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty" yaml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty" yaml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty" yaml:"s3_secret_access_key,omitempty"`
}

// ManifestConfig represents configuration for the per-path version manifests.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ManifestConfig struct {
	Type    string `toml:"type" yaml:"type"`                             // "sqlite", "filesystem", or "memory"
	DataDir string `toml:"data_dir,omitempty" yaml:"data_dir,omitempty"` // used for sqlite and filesystem
}

// AlertsConfig controls the in-memory alert log and where alerts are published.
type AlertsConfig struct {
	MaxAlerts   int    `toml:"max_alerts" yaml:"max_alerts"`
	TrimBatch   int    `toml:"trim_batch" yaml:"trim_batch"`
	Sink        string `toml:"sink" yaml:"sink"` // "log" (default), "nats", or "none"
	NATSURL     string `toml:"nats_url,omitempty" yaml:"nats_url,omitempty"`
	NATSSubject string `toml:"nats_subject,omitempty" yaml:"nats_subject,omitempty"`
}

// APIConfig controls the HTTP surface started by `medguard run`.
type APIConfig struct {
	Enabled    bool   `toml:"enabled" yaml:"enabled"`
	Listen     string `toml:"listen" yaml:"listen"`
	RestoreDir string `toml:"restore_dir,omitempty" yaml:"restore_dir,omitempty"` // extra allowed restore target directory
}

// NewConfig creates a new Config rooted at baseDir with every default filled in.
func NewConfig(baseDir string) *Config {
	cfg := &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Monitoring: MonitoringConfig{
			WatchPaths:     []string{filepath.Join(baseDir, "protected")},
			FileExtensions: []string{".dcm", ".hl7", ".xml", ".json", ".db"},
		},
		Encryption: EncryptionConfig{
			KeyPath: filepath.Join(baseDir, "keys", "medguard.key"),
		},
		ObjectStore: ObjectStoreConfig{
			Type: "filesystem",
			Root: filepath.Join(baseDir, "objects"),
		},
		Manifest: ManifestConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		API: APIConfig{
			Enabled: true,
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued settings with their defaults.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Monitoring.EventBufferSize <= 0 {
		c.Monitoring.EventBufferSize = 10000
	}
	if c.Detection.EntropyThreshold == 0 {
		c.Detection.EntropyThreshold = 7.5
	}
	if c.Detection.RapidChangeThreshold == 0 {
		c.Detection.RapidChangeThreshold = 50
	}
	if c.Detection.SuspiciousExtensions == nil {
		c.Detection.SuspiciousExtensions = []string{".locked", ".encrypted", ".crypto", ".crypt", ".enc"}
	}
	if c.Detection.TimeWindowSeconds == 0 {
		c.Detection.TimeWindowSeconds = 60
	}
	if c.Detection.TrackedFiles == 0 {
		c.Detection.TrackedFiles = 10000
	}
	if c.Backup.BlockSize == 0 {
		c.Backup.BlockSize = 4096
	}
	if c.Backup.RetentionCap == 0 {
		c.Backup.RetentionCap = 100
	}
	if c.Backup.RetentionBatch == 0 {
		c.Backup.RetentionBatch = 10
	}
	if c.Backup.Compression == "" {
		c.Backup.Compression = "zstd"
	}
	if c.Backup.Workers == 0 {
		c.Backup.Workers = 4
	}
	if c.Encryption.Mode == "" {
		c.Encryption.Mode = "keyfile"
	}
	if c.Encryption.Algorithm == "" {
		c.Encryption.Algorithm = "aes-256-gcm"
	}
	if c.Alerts.MaxAlerts == 0 {
		c.Alerts.MaxAlerts = 1000
	}
	if c.Alerts.TrimBatch == 0 {
		c.Alerts.TrimBatch = 100
	}
	if c.Alerts.Sink == "" {
		c.Alerts.Sink = "log"
	}
	if c.Alerts.NATSSubject == "" {
		c.Alerts.NATSSubject = "medguard.alerts"
	}
	if c.API.Listen == "" {
		c.API.Listen = "127.0.0.1:8080"
	}
}

// Validate rejects settings the engines cannot run with.
func (c *Config) Validate() error {
	if c.Backup.BlockSize <= 0 {
		return fmt.Errorf("backup.block_size must be positive, got %d", c.Backup.BlockSize)
	}
	if c.Backup.RetentionCap <= 0 {
		return fmt.Errorf("backup.retention_versions must be positive, got %d", c.Backup.RetentionCap)
	}
	if c.Backup.RetentionBatch <= 0 || c.Backup.RetentionBatch > c.Backup.RetentionCap {
		return fmt.Errorf("backup.retention_batch must be between 1 and %d, got %d", c.Backup.RetentionCap, c.Backup.RetentionBatch)
	}
	if c.Backup.Workers <= 0 {
		return fmt.Errorf("backup.workers must be positive, got %d", c.Backup.Workers)
	}
	if c.Detection.TimeWindowSeconds <= 0 {
		return fmt.Errorf("detection.time_window_seconds must be positive, got %d", c.Detection.TimeWindowSeconds)
	}
	if c.Alerts.TrimBatch <= 0 || c.Alerts.TrimBatch > c.Alerts.MaxAlerts {
		return fmt.Errorf("alerts.trim_batch must be between 1 and %d, got %d", c.Alerts.MaxAlerts, c.Alerts.TrimBatch)
	}
	switch c.Encryption.Mode {
	case "keyfile", "ephemeral":
	default:
		return fmt.Errorf("unknown encryption mode: %q", c.Encryption.Mode)
	}
	switch c.Encryption.Algorithm {
	case "aes-256-gcm", "xchacha20-poly1305":
	default:
		return fmt.Errorf("unknown encryption algorithm: %q", c.Encryption.Algorithm)
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a TOML Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ReadYAML decodes a YAML Config from the provided reader.
func (m *Manager) ReadYAML(r io.Reader) (*Config, error) {
	var cfg Config
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode yaml config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Write encodes a Config to the provided writer as TOML.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
// Files ending in .yaml or .yml are decoded as YAML, everything else as TOML.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	var cfg *Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err = m.ReadYAML(f)
	default:
		cfg, err = m.Read(f)
	}
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
