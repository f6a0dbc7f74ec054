package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fgbackuppro/fgbackuppro/internal/config"
	"github.com/fgbackuppro/fgbackuppro/internal/model"
	"github.com/fgbackuppro/fgbackuppro/internal/output"
	"github.com/fgbackuppro/fgbackuppro/internal/storage"
	"github.com/fgbackuppro/fgbackuppro/pkg/logger"
)

// RunRecorder 落库一次备份运行的结果，nil 表示不记录
type RunRecorder interface {
	RecordRun(run *model.BackupRun) error
}

// FleetResult 一轮全量备份的汇总
type FleetResult struct {
	Total     int
	Succeeded int
	Failed    []string
}

// Fleet 多设备顺序备份。设备间严格串行：同一时刻最多一条活动会话，
// 单台失败只记结果，不中断其余设备。
type Fleet struct {
	backuper *Backuper
	store    *storage.Store
	recorder RunRecorder
	reporter output.Reporter
}

// NewFleet 创建批量备份执行器
func NewFleet(backuper *Backuper, store *storage.Store, recorder RunRecorder, reporter output.Reporter) *Fleet {
	if reporter == nil {
		reporter = output.Discard{}
	}
	return &Fleet{
		backuper: backuper,
		store:    store,
		recorder: recorder,
		reporter: reporter,
	}
}

// BackupOne 备份单台设备并持久化产物，返回存档记录。
// 设备名为空时优先取设备上报的主机名，取不到则用 IP（点替换为下划线）。
func (f *Fleet) BackupOne(ctx context.Context, device config.DeviceConfig, backupType string) (*model.BackupRecord, error) {
	start := time.Now()

	result, err := f.backuper.Backup(ctx, device, backupType)
	if err != nil {
		f.record(device, backupType, nil, start, err)
		return nil, err
	}

	if device.Name == "" {
		device.Name = result.SystemInfo["hostname"]
		if device.Name == "" {
			device.Name = strings.ReplaceAll(device.Host, ".", "_")
		}
	}

	record, err := f.store.Save(ctx, device.Name, backupType, result.Config, result.SystemInfo)
	if err != nil {
		f.record(device, backupType, nil, start, err)
		return nil, err
	}

	f.record(device, backupType, record, start, nil)
	return record, nil
}

// BackupAll 按配置顺序逐台备份全部设备
func (f *Fleet) BackupAll(ctx context.Context, devices []config.DeviceConfig, backupType string) *FleetResult {
	result := &FleetResult{Total: len(devices)}

	for i, device := range devices {
		f.reporter.Banner(fmt.Sprintf("Backing up device %d/%d: %s", i+1, len(devices), device.Name))

		if _, err := f.BackupOne(ctx, device, backupType); err != nil {
			logger.Errorf("Backup failed for %s: %v", device.Name, err)
			f.reporter.Failure("Backup failed for %s: %v", device.Name, err)
			result.Failed = append(result.Failed, device.Name)
			continue
		}
		result.Succeeded++
	}

	return result
}

// record 运行历史落库，失败只告警不影响备份结果
func (f *Fleet) record(device config.DeviceConfig, backupType string, rec *model.BackupRecord, start time.Time, runErr error) {
	if f.recorder == nil {
		return
	}

	run := &model.BackupRun{
		DeviceName: device.Name,
		Host:       device.Host,
		BackupType: backupType,
		Status:     model.RunStatusSuccess,
		Duration:   time.Since(start).Milliseconds(),
	}
	if runErr != nil {
		run.Status = model.RunStatusFailed
		run.ErrorMsg = runErr.Error()
	}
	if rec != nil {
		run.Filename = rec.Filename
		run.FileSize = rec.FileSize
		run.Checksum = rec.Checksum
	}

	if err := f.recorder.RecordRun(run); err != nil {
		logger.Warnf("Failed to record backup run for %s: %v", device.Name, err)
	}
}
