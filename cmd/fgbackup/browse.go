package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fgbackuppro/fgbackuppro/internal/database"
	"github.com/fgbackuppro/fgbackuppro/internal/model"
	"github.com/fgbackuppro/fgbackuppro/internal/storage"
)

var listCmd = &cobra.Command{
	Use:   "list [device]",
	Short: "List stored backups",
	Long:  `List stored backup artifacts, newest first. An optional device name narrows the listing.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadRuntime()
	if err != nil {
		return err
	}

	deviceFilter := ""
	if len(args) == 1 {
		deviceFilter = args[0]
	}

	reporter := newReporter()
	store := storage.NewStore(cfg.BackupSettings.BackupPath, nil, reporter)

	records, err := store.List(deviceFilter)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		reporter.Notice("No backups found")
		return nil
	}

	reporter.Plain("%-20s %-8s %-17s %12s  %s", "DEVICE", "TYPE", "TIMESTAMP", "SIZE", "CHECKSUM")
	for _, r := range records {
		reporter.Plain("%-20s %-8s %-17s %10s B  %.16s...",
			r.DeviceName, r.BackupType, r.Timestamp, humanize.Comma(int64(r.FileSize)), r.Checksum)
	}
	reporter.Plain("")
	reporter.Plain("Total: %d backup(s)", len(records))
	return nil
}

var verifyCmd = &cobra.Command{
	Use:   "verify <backup-file>",
	Short: "Verify backup integrity",
	Long: `Recompute the checksum of a stored backup and compare it against the
recorded metadata. Detects corruption and tampering.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadRuntime()
	if err != nil {
		return err
	}

	reporter := newReporter()
	store := storage.NewStore(cfg.BackupSettings.BackupPath, nil, reporter)

	record, err := store.Verify(args[0])
	if err != nil {
		var mismatch *storage.MismatchError
		switch {
		case errors.Is(err, storage.ErrNotFound):
			reporter.Failure("Backup not found: %s", args[0])
		case errors.As(err, &mismatch):
			reporter.Failure("Integrity check FAILED")
			reporter.Plain("  Expected: %.16s...", mismatch.Expected)
			reporter.Plain("  Actual:   %.16s...", mismatch.Actual)
		default:
			reporter.Failure("Verification error: %v", err)
		}
		return err
	}

	reporter.Success("Backup verified: %s", record.Filename)
	reporter.Plain("  Device:   %s", record.DeviceName)
	reporter.Plain("  Size:     %s bytes", humanize.Comma(int64(record.FileSize)))
	reporter.Plain("  Checksum: %.16s...", record.Checksum)
	return nil
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [device]",
	Short: "Show backup run history",
	Long:  `Show recent backup runs (successes and failures) recorded in the local history database.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "Maximum number of runs to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadRuntime()
	if err != nil {
		return err
	}
	if err := database.InitSQLite(cfg.Database.SQLite); err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer closeDatabase()

	deviceFilter := ""
	if len(args) == 1 {
		deviceFilter = args[0]
	}

	runs, err := database.NewRunStore().ListRuns(deviceFilter, historyLimit)
	if err != nil {
		return err
	}

	reporter := newReporter()
	if len(runs) == 0 {
		reporter.Notice("No backup runs recorded")
		return nil
	}

	reporter.Plain("%-20s %-20s %-8s %-8s %10s  %s", "TIME", "DEVICE", "TYPE", "STATUS", "DURATION", "DETAIL")
	for _, run := range runs {
		detail := run.Filename
		if run.Status == model.RunStatusFailed {
			detail = run.ErrorMsg
		}
		reporter.Plain("%-20s %-20s %-8s %-8s %8dms  %s",
			run.CreatedAt.Format("2006-01-02 15:04:05"), run.DeviceName, run.BackupType,
			run.Status, run.Duration, detail)
	}
	return nil
}

// sampleConfig init 命令生成的样例配置
type sampleConfig struct {
	Devices []sampleDevice `yaml:"devices"`
	Backup  sampleBackup   `yaml:"backup_settings"`
}

type sampleDevice struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Port     int    `yaml:"port"`
	Type     string `yaml:"type"`
}

type sampleBackup struct {
	DefaultType    string `yaml:"default_type"`
	BackupPath     string `yaml:"backup_path"`
	Timeout        int    `yaml:"timeout"`
	CommandTimeout int    `yaml:"command_timeout"`
}

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a sample devices.yaml",
	Long: `Write a sample configuration file with one example device.
Defaults to ./devices.yaml when no path is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	path := "devices.yaml"
	if len(args) == 1 {
		path = args[0]
	}

	reporter := newReporter()

	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "%s already exists. Overwrite? [y/N]: ", path)
		answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			reporter.Notice("Aborted")
			return nil
		}
	}

	sample := sampleConfig{
		Devices: []sampleDevice{
			{
				Name:     "fw1",
				Host:     "192.168.1.99",
				Username: "admin",
				Password: "changeme",
				Port:     22,
				Type:     model.BackupTypeFull,
			},
		},
		Backup: sampleBackup{
			DefaultType:    model.BackupTypeFull,
			BackupPath:     "./backups",
			Timeout:        30,
			CommandTimeout: 120,
		},
	}

	data, err := yaml.Marshal(&sample)
	if err != nil {
		return fmt.Errorf("failed to render sample config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write sample config: %w", err)
	}

	reporter.Success("Sample configuration written to %s", path)
	reporter.Notice("Edit the device credentials before running a backup")
	return nil
}
