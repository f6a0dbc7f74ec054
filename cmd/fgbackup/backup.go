package main

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fgbackuppro/fgbackuppro/internal/config"
	"github.com/fgbackuppro/fgbackuppro/internal/model"
	"github.com/fgbackuppro/fgbackuppro/pkg/logger"
)

// backup 单设备标志
var (
	backupHost     string
	backupUsername string
	backupPassword string
	backupPort     int
	backupType     string
	backupName     string
)

var backupCmd = &cobra.Command{
	Use:   "backup [device]",
	Short: "Back up a single device",
	Long: `Back up a single FortiGate device.

The device can be referenced by name from devices.yaml, or described
ad-hoc with --host/--username. Without --password the password is
prompted interactively.

Examples:
  fgbackup backup fw1
  fgbackup backup --host 192.168.1.99 --username admin
  fgbackup backup fw1 --type config`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().StringVar(&backupHost, "host", "", "Device IP or hostname (ad-hoc mode)")
	backupCmd.Flags().StringVarP(&backupUsername, "username", "u", "", "SSH username (ad-hoc mode)")
	backupCmd.Flags().StringVarP(&backupPassword, "password", "p", "", "SSH password (prompted when omitted)")
	backupCmd.Flags().IntVar(&backupPort, "port", 22, "SSH port (ad-hoc mode)")
	backupCmd.Flags().StringVarP(&backupType, "type", "t", "", "Backup type: full | config")
	backupCmd.Flags().StringVar(&backupName, "name", "", "Override device name used for the artifact directory")
}

// resolveDevice 组装目标设备：配置内的命名设备，或标志描述的临时设备
func resolveDevice(cfg *config.Config, args []string) (config.DeviceConfig, error) {
	if len(args) == 1 {
		device, ok := cfg.FindDevice(args[0])
		if !ok {
			return config.DeviceConfig{}, fmt.Errorf("device not found in config: %s", args[0])
		}
		if backupName != "" {
			device.Name = backupName
		}
		return device, nil
	}

	if backupHost == "" || backupUsername == "" {
		return config.DeviceConfig{}, fmt.Errorf("either a device name or --host and --username are required")
	}

	password := backupPassword
	if password == "" {
		fmt.Fprintf(os.Stderr, "Password for %s@%s: ", backupUsername, backupHost)
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return config.DeviceConfig{}, fmt.Errorf("failed to read password: %w", err)
		}
		password = string(raw)
	}

	return config.DeviceConfig{
		Name:     backupName,
		Host:     backupHost,
		Username: backupUsername,
		Password: password,
		Port:     backupPort,
	}, nil
}

// resolveBackupType 标志 > 设备默认 > 全局默认
func resolveBackupType(cfg *config.Config, device config.DeviceConfig) (string, error) {
	t := strings.TrimSpace(backupType)
	if t == "" {
		t = device.Type
	}
	if t == "" {
		t = cfg.BackupSettings.DefaultType
	}
	if t != model.BackupTypeFull && t != model.BackupTypeConfig {
		return "", fmt.Errorf("invalid backup type %q: must be full or config", t)
	}
	return t, nil
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadRuntime()
	if err != nil {
		return err
	}

	device, err := resolveDevice(cfg, args)
	if err != nil {
		return err
	}
	bType, err := resolveBackupType(cfg, device)
	if err != nil {
		return err
	}

	reporter := newReporter()
	fleet, _ := newFleet(cfg, reporter, true)
	defer closeDatabase()

	record, err := fleet.BackupOne(cmd.Context(), device, bType)
	if err != nil {
		reporter.Failure("Backup failed: %v", err)
		return err
	}

	reporter.Plain("")
	reporter.Success("Backup complete: %s", record.Filename)
	return nil
}

var backupAllParallel bool

var backupAllCmd = &cobra.Command{
	Use:   "backup-all",
	Short: "Back up every device in the config",
	Long: `Back up all devices listed in devices.yaml, one after another.
A failure on one device is reported and the run continues with the next.`,
	Args: cobra.NoArgs,
	RunE: runBackupAll,
}

func init() {
	backupAllCmd.Flags().StringVarP(&backupType, "type", "t", "", "Backup type: full | config")
	backupAllCmd.Flags().BoolVar(&backupAllParallel, "parallel", false, "Accepted for compatibility; devices are always processed sequentially")
}

func runBackupAll(cmd *cobra.Command, args []string) error {
	cfg, err := loadRuntime()
	if err != nil {
		return err
	}
	if len(cfg.Devices) == 0 {
		return fmt.Errorf("no devices defined in config")
	}

	bType := strings.TrimSpace(backupType)
	if bType == "" {
		bType = cfg.BackupSettings.DefaultType
	}
	if bType != model.BackupTypeFull && bType != model.BackupTypeConfig {
		return fmt.Errorf("invalid backup type %q: must be full or config", bType)
	}

	reporter := newReporter()
	if backupAllParallel {
		reporter.Notice("Parallel mode is not supported; running sequentially")
		logger.Info("--parallel requested; devices are processed sequentially")
	}

	fleet, _ := newFleet(cfg, reporter, true)
	defer closeDatabase()

	result := fleet.BackupAll(cmd.Context(), cfg.Devices, bType)

	reporter.Banner("Backup summary")
	reporter.Plain("Total:     %d", result.Total)
	reporter.Plain("Succeeded: %d", result.Succeeded)
	reporter.Plain("Failed:    %d", len(result.Failed))
	for _, name := range result.Failed {
		reporter.Failure("  %s", name)
	}

	if len(result.Failed) > 0 {
		return fmt.Errorf("%d of %d backups failed", len(result.Failed), result.Total)
	}
	return nil
}

var testCmd = &cobra.Command{
	Use:   "test [device]",
	Short: "Test connectivity to a device",
	Long: `Connect to a device, read its system status and disconnect.
Useful for validating credentials and reachability before a backup run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTest,
}

func init() {
	testCmd.Flags().StringVar(&backupHost, "host", "", "Device IP or hostname (ad-hoc mode)")
	testCmd.Flags().StringVarP(&backupUsername, "username", "u", "", "SSH username (ad-hoc mode)")
	testCmd.Flags().StringVarP(&backupPassword, "password", "p", "", "SSH password (prompted when omitted)")
	testCmd.Flags().IntVar(&backupPort, "port", 22, "SSH port (ad-hoc mode)")
}

func runTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadRuntime()
	if err != nil {
		return err
	}

	device, err := resolveDevice(cfg, args)
	if err != nil {
		return err
	}

	reporter := newReporter()
	backuper := newBackuper(cfg, reporter)

	info, err := backuper.TestConnection(cmd.Context(), device)
	if err != nil {
		reporter.Failure("Connection test failed: %v", err)
		return err
	}

	reporter.Success("Connection test passed")
	if v := info["hostname"]; v != "" {
		reporter.Plain("  Hostname: %s", v)
	}
	if v := info["version"]; v != "" {
		reporter.Plain("  Version:  %s", v)
	}
	if v := info["serial"]; v != "" {
		reporter.Plain("  Serial:   %s", v)
	}
	return nil
}
