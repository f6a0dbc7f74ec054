package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/semaphore"

	"github.com/fgbackuppro/fgbackuppro/internal/config"
	"github.com/fgbackuppro/fgbackuppro/internal/model"
	"github.com/fgbackuppro/fgbackuppro/internal/output"
	"github.com/fgbackuppro/fgbackuppro/pkg/logger"
	"github.com/fgbackuppro/fgbackuppro/pkg/ssh"
)

// BackupState 单次备份的状态机状态
type BackupState int

const (
	StateDisconnected BackupState = iota
	StateConnecting
	StateConnected
	StateConfiguringConsole
	StateExecutingBackup
	StateGatheringInfo
	StateSanitizing
	StateValidating
	StateComplete
	StateFailed
)

var stateNames = map[BackupState]string{
	StateDisconnected:       "disconnected",
	StateConnecting:         "connecting",
	StateConnected:          "connected",
	StateConfiguringConsole: "configuring_console",
	StateExecutingBackup:    "executing_backup",
	StateGatheringInfo:      "gathering_info",
	StateSanitizing:         "sanitizing",
	StateValidating:         "validating",
	StateComplete:           "complete",
	StateFailed:             "failed",
}

func (s BackupState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// minConfigLength 有效配置正文的最小长度（字符）。
// 低于该阈值说明只抓到了提示符或错误信息，按不完整备份处理。
const minConfigLength = 100

// promptWaitTimeout 连接后等待首个空闲提示符的时间
const promptWaitTimeout = 10 * time.Second

// consoleSetupCommands 关闭 FortiOS 终端分页的命令序列（尽力而为）
var consoleSetupCommands = []string{
	"config system console",
	"set output standard",
	"end",
}

// ErrIncompleteConfig 清洗后的配置正文过短
var ErrIncompleteConfig = errors.New("configuration data seems incomplete")

// ChannelDialer 打开到设备的交互通道。真实实现基于 pkg/ssh；
// 测试注入内存实现。
type ChannelDialer func(ctx context.Context, device config.DeviceConfig, timeout time.Duration) (ssh.Channel, error)

// NewSSHDialer 默认的 SSH 通道工厂
func NewSSHDialer() ChannelDialer {
	return func(ctx context.Context, device config.DeviceConfig, timeout time.Duration) (ssh.Channel, error) {
		client := ssh.NewClient(&ssh.Config{Timeout: timeout})
		info := &ssh.ConnectionInfo{
			Host:     device.Host,
			Port:     device.Port,
			Username: device.Username,
			Password: device.Password,
		}
		if err := client.Connect(ctx, info); err != nil {
			return nil, err
		}
		return client, nil
	}
}

// BackupResult 一次成功备份的产出
type BackupResult struct {
	Config     string
	SystemInfo model.SystemInfo
}

// Backuper 备份编排器：串起「关分页 → 执行备份命令 → 采集设备信息 →
// 清洗 → 校验长度」。每次 Backup 调用都是独立的状态机运行，
// 不在多次尝试间保留任何状态。
type Backuper struct {
	settings config.BackupSettings
	dial     ChannelDialer
	reporter output.Reporter

	// sessions 权重为 1 的信号量：CLI 与 serve 模式共用，
	// 保证任意时刻只有一条活动会话
	sessions *semaphore.Weighted
}

// NewBackuper 创建备份编排器
func NewBackuper(settings config.BackupSettings, dial ChannelDialer, reporter output.Reporter) *Backuper {
	if reporter == nil {
		reporter = output.Discard{}
	}
	return &Backuper{
		settings: settings,
		dial:     dial,
		reporter: reporter,
		sessions: semaphore.NewWeighted(1),
	}
}

// Backup 对单台设备执行一次备份，返回清洗后的配置正文与设备信息。
// 失败时返回的错误已归类：连接失败、执行失败或不完整配置。
func (b *Backuper) Backup(ctx context.Context, device config.DeviceConfig, backupType string) (*BackupResult, error) {
	if err := b.sessions.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for session slot: %w", err)
	}
	defer b.sessions.Release(1)

	state := StateDisconnected
	transition := func(next BackupState) {
		state = next
		logger.Debugf("backup state for %s: %s", device.Name, state)
	}

	timeout := time.Duration(b.settings.Timeout) * time.Second

	// Connecting：建立传输并等到空闲提示符
	transition(StateConnecting)
	b.reporter.Step("Connecting to %s:%d...", device.Host, device.Port)
	ch, err := b.dial(ctx, device, timeout)
	if err != nil {
		transition(StateFailed)
		b.reporter.Failure("Connection failed to %s: %v", device.Host, err)
		logger.Errorf("Connection failed to %s: %v", device.Host, err)
		return nil, fmt.Errorf("connection failed to %s: %w", device.Host, err)
	}
	defer func() {
		_ = ch.Close()
		b.reporter.Notice("Disconnected from %s", device.Host)
	}()

	shell := ssh.NewShell(ch, b.reporter)
	shell.WaitForPrompt(promptWaitTimeout)
	transition(StateConnected)
	b.reporter.Success("Connected successfully to %s", device.Host)
	logger.Infof("Successfully connected to %s", device.Host)

	// ConfiguringConsole：关闭分页，失败不致命（执行层的续页兜底）
	transition(StateConfiguringConsole)
	b.reporter.Step("Configuring console...")
	for _, cmd := range consoleSetupCommands {
		if _, timedOut, cmdErr := shell.Execute(cmd, timeout, false); cmdErr != nil || timedOut {
			logger.Debugf("console setup command %q did not complete cleanly on %s (err=%v timeout=%v)",
				cmd, device.Host, cmdErr, timedOut)
		}
	}

	// ExecutingBackup：长超时 + 进度报告
	transition(StateExecutingBackup)
	command := "show"
	if backupType == model.BackupTypeFull {
		command = "show full-configuration"
	}
	b.reporter.Progress("Executing backup command: %s", command)
	b.reporter.Step("Large configurations may take several minutes...")

	cmdTimeout := time.Duration(b.settings.CommandTimeout) * time.Second
	rawConfig, timedOut, err := shell.Execute(command, cmdTimeout, true)
	if err != nil {
		transition(StateFailed)
		return nil, fmt.Errorf("failed to execute backup command: %w", err)
	}
	if timedOut {
		// 超时本身不直接判负：已到达的内容继续走清洗与长度校验
		logger.Warnf("Backup command timed out on %s; validating partial output", device.Host)
	}

	// GatheringInfo：解析失败只会让字段缺省
	transition(StateGatheringInfo)
	b.reporter.Step("Gathering system information...")
	info := model.SystemInfo{}
	if statusOut, _, infoErr := shell.Execute("get system status", timeout, false); infoErr == nil {
		info = ParseSystemInfo(statusOut)
	}

	// Sanitizing → Validating
	transition(StateSanitizing)
	b.reporter.Step("Processing configuration...")
	cleaned := CleanConfigOutput(rawConfig)

	transition(StateValidating)
	if len([]rune(strings.TrimSpace(cleaned))) < minConfigLength {
		transition(StateFailed)
		b.reporter.Failure("Backup failed: %v", ErrIncompleteConfig)
		return nil, ErrIncompleteConfig
	}

	transition(StateComplete)
	b.reporter.Success("Configuration backup completed (%s bytes)", humanize.Comma(int64(len(cleaned))))
	return &BackupResult{Config: cleaned, SystemInfo: info}, nil
}

// TestConnection 连接设备并采集基础信息，用于连通性测试
func (b *Backuper) TestConnection(ctx context.Context, device config.DeviceConfig) (model.SystemInfo, error) {
	if err := b.sessions.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for session slot: %w", err)
	}
	defer b.sessions.Release(1)

	timeout := time.Duration(b.settings.Timeout) * time.Second

	b.reporter.Step("Connecting to %s:%d...", device.Host, device.Port)
	ch, err := b.dial(ctx, device, timeout)
	if err != nil {
		b.reporter.Failure("Connection failed to %s: %v", device.Host, err)
		return nil, fmt.Errorf("connection failed to %s: %w", device.Host, err)
	}
	defer func() {
		_ = ch.Close()
		b.reporter.Notice("Disconnected from %s", device.Host)
	}()

	shell := ssh.NewShell(ch, b.reporter)
	shell.WaitForPrompt(promptWaitTimeout)
	b.reporter.Success("Connected successfully to %s", device.Host)

	statusOut, _, err := shell.Execute("get system status", timeout, false)
	if err != nil {
		return nil, fmt.Errorf("failed to query system status: %w", err)
	}
	return ParseSystemInfo(statusOut), nil
}
