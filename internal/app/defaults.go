package app

import (
	"fmt"
	"os"
	"path/filepath"

	"medguard/internal/config"
)

// Environment variables read by medguard.
const (
	EnvConfigPath = "MEDGUARD_CONFIG_PATH" // config file (default ~/.config/medguard.toml)
	EnvHome       = "MEDGUARD_HOME"        // data directory (default ~/.local/share/medguard)
	EnvLogLevel   = "MEDGUARD_LOG_LEVEL"   // overrides log_level
	EnvAPIListen  = "MEDGUARD_API_LISTEN"  // overrides api.listen
	EnvRestoreDir = "MEDGUARD_RESTORE_DIR" // overrides api.restore_dir
)

// Defaults are the locations used before any config file has been read.
type Defaults struct {
	ConfigPath string
	BaseDir    string
}

// GetDefaults resolves the config path and data directory from the
// environment, falling back to the XDG locations under the home directory.
func GetDefaults() (Defaults, error) {
	configPath, err := envOrHome(EnvConfigPath, ".config", "medguard.toml")
	if err != nil {
		return Defaults{}, err
	}
	baseDir, err := envOrHome(EnvHome, ".local", "share", "medguard")
	if err != nil {
		return Defaults{}, err
	}
	return Defaults{ConfigPath: configPath, BaseDir: baseDir}, nil
}

func envOrHome(env string, rel ...string) (string, error) {
	if v := os.Getenv(env); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{home}, rel...)...), nil
}

// LoadConfig reads the config file named by the defaults and applies the
// environment overrides on top of it.
func LoadConfig() (*config.Config, Defaults, error) {
	d, err := GetDefaults()
	if err != nil {
		return nil, Defaults{}, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(d.ConfigPath)
	if err != nil {
		return nil, d, fmt.Errorf("reading config: %w", err)
	}
	ApplyEnv(cfg)
	return cfg, d, nil
}

// ApplyEnv overrides config settings that are commonly changed per run.
func ApplyEnv(cfg *config.Config) {
	overrides := []struct {
		env string
		dst *string
	}{
		{EnvLogLevel, &cfg.LogLevel},
		{EnvAPIListen, &cfg.API.Listen},
		{EnvRestoreDir, &cfg.API.RestoreDir},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
}
