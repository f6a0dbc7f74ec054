// Package main FortiGate 配置备份工具的命令行入口
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fgbackuppro/fgbackuppro/internal/config"
	"github.com/fgbackuppro/fgbackuppro/internal/database"
	"github.com/fgbackuppro/fgbackuppro/internal/output"
	"github.com/fgbackuppro/fgbackuppro/internal/service"
	"github.com/fgbackuppro/fgbackuppro/internal/storage"
	"github.com/fgbackuppro/fgbackuppro/pkg/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// 全局标志
var (
	configPath string
	debug      bool
	noColor    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fgbackup",
	Short: "FortiGate configuration backup tool",
	Long: `fgbackup backs up FortiGate firewall configurations over SSH.

It drives the interactive CLI directly: prompt synchronization, automatic
pagination handling and bounded command execution. Backups are stored as
checksummed artifacts with JSON metadata next to each configuration file.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to devices.yaml (default: ./devices.yaml, ./configs/devices.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(backupAllCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
}

// loadRuntime 加载配置并初始化日志，全部子命令共用
func loadRuntime() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.Log
	if debug {
		logCfg.Level = "debug"
	}
	if err := logger.Init(logger.Config{
		Level:      logCfg.Level,
		Format:     logCfg.Format,
		Output:     logCfg.Output,
		FilePath:   logCfg.FilePath,
		MaxSize:    logCfg.MaxSize,
		MaxBackups: logCfg.MaxBackups,
		MaxAge:     logCfg.MaxAge,
		Compress:   logCfg.Compress,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

// newReporter 控制台事件输出
func newReporter() *output.Console {
	reporter := output.NewConsole(os.Stdout)
	reporter.SetColor(!noColor)
	return reporter
}

// newFleet 组装备份执行链。withHistory 控制是否启用运行历史库，
// 历史库初始化失败只降级告警，不阻断备份。
func newFleet(cfg *config.Config, reporter output.Reporter, withHistory bool) (*service.Fleet, *storage.Store) {
	backuper := service.NewBackuper(cfg.BackupSettings, service.NewSSHDialer(), reporter)

	mirror := storage.NewMinioMirror(cfg.Storage.Minio)
	var store *storage.Store
	if mirror != nil {
		store = storage.NewStore(cfg.BackupSettings.BackupPath, mirror, reporter)
	} else {
		store = storage.NewStore(cfg.BackupSettings.BackupPath, nil, reporter)
	}

	var recorder service.RunRecorder
	if withHistory {
		if err := database.InitSQLite(cfg.Database.SQLite); err != nil {
			logger.Warnf("Backup history disabled: %v", err)
		} else {
			recorder = database.NewRunStore()
		}
	}

	return service.NewFleet(backuper, store, recorder, reporter), store
}

// newBackuper 不带存储链的编排器，test 命令用
func newBackuper(cfg *config.Config, reporter output.Reporter) *service.Backuper {
	return service.NewBackuper(cfg.BackupSettings, service.NewSSHDialer(), reporter)
}

// closeDatabase 关闭历史库连接，未初始化时为空操作
func closeDatabase() {
	if err := database.Close(); err != nil {
		logger.Warnf("Failed to close database: %v", err)
	}
}
