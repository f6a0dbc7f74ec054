package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/fgbackuppro/fgbackuppro/api/handler"
	"github.com/fgbackuppro/fgbackuppro/api/router"
	"github.com/fgbackuppro/fgbackuppro/internal/config"
	"github.com/fgbackuppro/fgbackuppro/internal/database"
	"github.com/fgbackuppro/fgbackuppro/internal/output"
	"github.com/fgbackuppro/fgbackuppro/internal/service"
	"github.com/fgbackuppro/fgbackuppro/internal/storage"
	"github.com/fgbackuppro/fgbackuppro/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the backup HTTP API server",
	Long: `Run an HTTP API exposing backup trigger, listing, verification and
run history. The device config is watched and hot-reloaded on change.
Backups triggered over the API run one at a time.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadRuntime()
	if err != nil {
		return err
	}

	logger.Infof("Starting FG Backup Pro server, version %s", version)

	// 历史库在 serve 模式是必需的
	if err := database.InitSQLite(cfg.Database.SQLite); err != nil {
		return err
	}
	defer closeDatabase()

	// 服务端不往 stdout 打进度，备份事件只进日志
	backuper := service.NewBackuper(cfg.BackupSettings, service.NewSSHDialer(), output.Discard{})
	mirror := storage.NewMinioMirror(cfg.Storage.Minio)
	var store *storage.Store
	if mirror != nil {
		store = storage.NewStore(cfg.BackupSettings.BackupPath, mirror, output.Discard{})
	} else {
		store = storage.NewStore(cfg.BackupSettings.BackupPath, nil, output.Discard{})
	}
	runs := database.NewRunStore()
	fleet := service.NewFleet(backuper, store, runs, output.Discard{})

	backupHandler := handler.NewBackupHandler(fleet, store, runs)
	engine := router.SetupRouter(backupHandler)

	server := &http.Server{
		Addr:         cfg.GetServerAddr(),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Infof("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 配置文件监听与热更新
	go watchConfig()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
		return err
	}

	logger.Info("Server stopped")
	return nil
}

// watchConfig 监听设备配置文件，变更后防抖重载。
// 重载通过 config.Load 整体替换全局快照，处理器经 config.Get 读取，
// 不原地改写已发布的实例；监听地址变更需要重启。
func watchConfig() {
	path := config.UsedFile()
	if path == "" {
		logger.Warn("Config watch skipped: config file path unknown")
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warnf("Config watch init failed: %v", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		logger.Warnf("Config watch add failed: %v", err)
		return
	}

	var debounce *time.Timer
	const debounceInterval = 300 * time.Millisecond
	trigger := func() {
		newCfg, err := config.Load(path)
		if err != nil {
			logger.Warnf("Config reload failed: %v", err)
			return
		}
		logger.Infof("Config reloaded: %d device(s)", len(newCfg.Devices))
	}

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceInterval, trigger)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("Config watch error: %v", err)
		}
	}
}
