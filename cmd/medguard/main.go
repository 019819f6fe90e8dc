package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"medguard/internal/app"
	"medguard/internal/config"
	"medguard/internal/encryption"
	"medguard/internal/guard"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	cfg, d, err := app.LoadConfig()
	if err != nil {
		return nil, "", err
	}
	return cfg, d.ConfigPath, nil
}

// newApp reads the config and creates an MGApp. The caller must defer app.Close().
// operation identifies the CLI command being run. Commands that never read or
// write block contents pass a nil passphrase.
func newApp(ctx context.Context, operation string, passphrase encryption.PassphraseFunc) (*app.MGApp, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewMGApp(ctx, cfg, operation, passphrase)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "medguard",
	Short:        "Ransomware detection and versioned backup for medical data",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults.BaseDir)
		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Base Dir: %s\n", defaults.BaseDir)
		fmt.Println("Run 'medguard key init' to create the encryption key.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Watch Paths:  %s\n", strings.Join(cfg.Monitoring.WatchPaths, ", "))
		fmt.Printf("Extensions:   %s\n", strings.Join(cfg.Monitoring.FileExtensions, " "))
		fmt.Printf("Object Store: %s\n", cfg.ObjectStore.Type)
		fmt.Printf("Manifests:    %s\n", cfg.Manifest.Type)
		fmt.Printf("Encryption:   %s (%s)\n", cfg.Encryption.Mode, cfg.Encryption.Algorithm)
		fmt.Printf("Alert Sink:   %s\n", cfg.Alerts.Sink)
		if cfg.API.Enabled {
			fmt.Printf("API:          %s\n", cfg.API.Listen)
		}
		if cfg.API.RestoreDir != "" {
			fmt.Printf("Restore Dir:  %s\n", cfg.API.RestoreDir)
		}
		return nil
	},
}

// key command
var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the encryption key",
}

var keyInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the passphrase-protected encryption key",
	RunE: func(cmd *cobra.Command, args []string) error {
		algorithm, _ := cmd.Flags().GetString("algorithm")

		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		pass, err := newPassphrase()
		if err != nil {
			return err
		}

		path, err := app.InitKey(cfg, algorithm, pass)
		if err != nil {
			return fmt.Errorf("creating key: %w", err)
		}
		fmt.Printf("Key created at %s\n", path)
		return nil
	},
}

// run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch protected paths and back up changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "Run", readPassphrase)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Run(ctx)
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup PATH",
	Short: "Back up a file, or every protected file under a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Backup", readPassphrase)
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.Backup(args[0])
		if err != nil {
			return err
		}

		var created, unchanged, failed int
		for _, r := range results {
			switch {
			case r.Err != nil:
				failed++
				fmt.Fprintf(os.Stderr, "FAIL  %s: %v\n", r.Path, r.Err)
			case r.Created:
				created++
				fmt.Printf("v%-4d %s\n", r.Version.Version, r.Path)
			default:
				unchanged++
				fmt.Printf("v%-4d %s (unchanged)\n", r.Version.Version, r.Path)
			}
		}

		fmt.Printf("Backed up %d file(s), %d unchanged, %d failed\n", created, unchanged, failed)
		if failed > 0 {
			return fmt.Errorf("%d file(s) failed", failed)
		}
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore PATH",
	Short: "Restore a file from its backup history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		var version *uint64
		if cmd.Flags().Changed("version") {
			v, _ := cmd.Flags().GetUint64("version")
			version = &v
		}

		a, err := newApp(cmd.Context(), "Restore", readPassphrase)
		if err != nil {
			return err
		}
		defer a.Close()

		v, err := a.Restore(args[0], version, output)
		if err != nil {
			if errors.Is(err, guard.ErrNoBackups) {
				return fmt.Errorf("no backups for %s", args[0])
			}
			return fmt.Errorf("restore failed [%s]: %w", guard.ErrorKind(err), err)
		}

		target := args[0]
		if output != "" {
			target = output
		}
		fmt.Printf("Restored version %d (%s) to %s\n", v.Version, v.Timestamp.Format("2006-01-02 15:04:05"), target)
		return nil
	},
}

// versions command
var versionsCmd = &cobra.Command{
	Use:   "versions PATH",
	Short: "List retained versions of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Versions", nil)
		if err != nil {
			return err
		}
		defer a.Close()

		versions, err := a.Versions(args[0])
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			fmt.Println("No backup history.")
			return nil
		}

		for _, v := range versions {
			fmt.Printf("v%-4d  %s  %s  %d bytes  %d block(s)\n",
				v.Version,
				v.FileHash[:12],
				v.Timestamp.Format("2006-01-02 15:04:05"),
				v.Metadata.Size,
				len(v.BlockHashes),
			)
		}
		return nil
	},
}

// changes command
var changesCmd = &cobra.Command{
	Use:   "changes PATH",
	Short: "Show which blocks of a file differ from its latest backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Changes", nil)
		if err != nil {
			return err
		}
		defer a.Close()

		changed, err := a.Changes(args[0])
		if err != nil {
			return err
		}
		if len(changed) == 0 {
			fmt.Println("No changes since the latest backup.")
			return nil
		}
		for _, i := range changed {
			fmt.Printf("block %d\n", i)
		}
		fmt.Printf("%d block(s) changed\n", len(changed))
		return nil
	},
}

// backups command
var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List every backed-up file",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Backups", nil)
		if err != nil {
			return err
		}
		defer a.Close()

		infos, err := a.Backups()
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("No backups recorded.")
			return nil
		}

		for _, info := range infos {
			latest := info.Latest()
			if latest == nil {
				continue
			}
			fmt.Printf("%-4d  %s  %s\n",
				len(info.Versions),
				latest.Timestamp.Format("2006-01-02 15:04:05"),
				info.FilePath,
			)
		}
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backup store status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Status", nil)
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.Status()
		if err != nil {
			return err
		}

		fmt.Printf("State:          %s\n", s.State)
		fmt.Printf("Backed up:      %d file(s), %d version(s)\n", s.BackedUpFiles, s.BackupVersions)
		fmt.Printf("Stored objects: %d (%d bytes)\n", s.StoredObjects, s.StoredBytes)
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// key subcommands
	keyCmd.AddCommand(keyInitCmd)
	keyInitCmd.Flags().String("algorithm", string(encryption.AES256GCM), "Cipher: aes-256-gcm or xchacha20-poly1305")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().Uint64P("version", "v", 0, "Version to restore (default: latest)")
	restoreCmd.Flags().StringP("output", "o", "", "Write to this path instead of restoring in place")
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(changesCmd)
	rootCmd.AddCommand(backupsCmd)
	rootCmd.AddCommand(statusCmd)
}
