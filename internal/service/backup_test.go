package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fgbackuppro/fgbackuppro/internal/config"
	"github.com/fgbackuppro/fgbackuppro/internal/model"
	"github.com/fgbackuppro/fgbackuppro/internal/storage"
	"github.com/fgbackuppro/fgbackuppro/pkg/ssh"
)

// fakeDevice 内存版交互通道：按命令回放预置输出
type fakeDevice struct {
	mu        sync.Mutex
	queue     [][]byte
	responses map[string][]string
	sent      []string
	closed    bool
}

func (f *fakeDevice) Send(data string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
	key := strings.TrimSuffix(data, "\n")
	for _, chunk := range f.responses[key] {
		f.queue = append(f.queue, []byte(chunk))
	}
	return nil
}

func (f *fakeDevice) Recv() ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil, false
	}
	chunk := f.queue[0]
	f.queue = f.queue[1:]
	return chunk, true
}

func (f *fakeDevice) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeDevice) sentCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

const fakePrompt = "fw1 # "

const fakeConfigPart1 = `show full-configuration
#config-version=FGT60E-6.4.5-FW-build1828-210217:opmode=0:vdom=0
config system global
    set admin-scp enable
    set admintimeout 30
    set hostname "fw1"
    set timezone 04
end
--More--`

const fakeConfigPart2 = `
config system interface
    edit "port1"
        set ip 10.0.0.1 255.255.255.0
        set allowaccess ping https ssh
    next
end
` + fakePrompt

const fakeStatus = `get system status
Version: FortiGate-60E v6.4.5,build1828,210217 (GA)
Serial-Number: FGT60E0000000001
Hostname: fw1
` + fakePrompt

// newFakeDevice 返回覆盖完整备份流程的通道：横幅、关分页、
// 带续页的配置下载与系统信息查询
func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		queue: [][]byte{[]byte("FortiGate login banner\n" + fakePrompt)},
		responses: map[string][]string{
			"config system console":   {fakePrompt},
			"set output standard":     {fakePrompt},
			"end":                     {fakePrompt},
			"show full-configuration": {fakeConfigPart1},
			" ":                       {fakeConfigPart2},
			"show":                    {fakeConfigPart1},
			"get system status":       {fakeStatus},
		},
	}
}

func testSettings() config.BackupSettings {
	return config.BackupSettings{
		DefaultType:    model.BackupTypeFull,
		Timeout:        5,
		CommandTimeout: 5,
	}
}

func dialerFor(device *fakeDevice) ChannelDialer {
	return func(ctx context.Context, _ config.DeviceConfig, _ time.Duration) (ssh.Channel, error) {
		return device, nil
	}
}

func testDevice() config.DeviceConfig {
	return config.DeviceConfig{
		Name:     "fw1",
		Host:     "10.0.0.1",
		Port:     22,
		Username: "admin",
		Password: "secret",
		Type:     "fortigate",
	}
}

func TestBackupFullFlow(t *testing.T) {
	device := newFakeDevice()
	b := NewBackuper(testSettings(), dialerFor(device), nil)

	result, err := b.Backup(context.Background(), testDevice(), model.BackupTypeFull)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(result.Config, "#config-version="))
	assert.NotContains(t, result.Config, "--More--")
	assert.NotContains(t, result.Config, fakePrompt)
	assert.Contains(t, result.Config, `set ip 10.0.0.1 255.255.255.0`)
	assert.Equal(t, "fw1", result.SystemInfo["hostname"])
	assert.Equal(t, "FGT60E0000000001", result.SystemInfo["serial"])

	sent := device.sentCommands()
	assert.Contains(t, sent, "config system console\n")
	assert.Contains(t, sent, "show full-configuration\n")
	assert.Contains(t, sent, " ") // 续页空格
	assert.True(t, device.closed)
}

func TestBackupConfigTypeUsesShow(t *testing.T) {
	device := newFakeDevice()
	b := NewBackuper(testSettings(), dialerFor(device), nil)

	_, err := b.Backup(context.Background(), testDevice(), model.BackupTypeConfig)
	require.NoError(t, err)

	sent := device.sentCommands()
	assert.Contains(t, sent, "show\n")
	assert.NotContains(t, sent, "show full-configuration\n")
}

func TestBackupIncompleteConfig(t *testing.T) {
	device := newFakeDevice()
	device.responses["show full-configuration"] = []string{
		"show full-configuration\n#config-version=short\n" + fakePrompt,
	}
	b := NewBackuper(testSettings(), dialerFor(device), nil)

	_, err := b.Backup(context.Background(), testDevice(), model.BackupTypeFull)
	assert.ErrorIs(t, err, ErrIncompleteConfig)
	assert.True(t, device.closed)
}

func TestBackupDialFailure(t *testing.T) {
	dialErr := errors.New("connection refused")
	dial := func(context.Context, config.DeviceConfig, time.Duration) (ssh.Channel, error) {
		return nil, dialErr
	}
	b := NewBackuper(testSettings(), dial, nil)

	_, err := b.Backup(context.Background(), testDevice(), model.BackupTypeFull)
	require.Error(t, err)
	assert.ErrorIs(t, err, dialErr)
}

func TestTestConnection(t *testing.T) {
	device := newFakeDevice()
	b := NewBackuper(testSettings(), dialerFor(device), nil)

	info, err := b.TestConnection(context.Background(), testDevice())
	require.NoError(t, err)
	assert.Equal(t, "fw1", info["hostname"])
	assert.True(t, device.closed)
}

func TestBackupStateString(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "complete", StateComplete.String())
	assert.Equal(t, "unknown", BackupState(99).String())
}

// fakeRecorder 记录落库调用
type fakeRecorder struct {
	runs []*model.BackupRun
}

func (r *fakeRecorder) RecordRun(run *model.BackupRun) error {
	r.runs = append(r.runs, run)
	return nil
}

func TestFleetBackupOneSavesArtifact(t *testing.T) {
	device := newFakeDevice()
	b := NewBackuper(testSettings(), dialerFor(device), nil)
	store := storage.NewStore(t.TempDir(), nil, nil)
	recorder := &fakeRecorder{}
	fleet := NewFleet(b, store, recorder, nil)

	record, err := fleet.BackupOne(context.Background(), testDevice(), model.BackupTypeFull)
	require.NoError(t, err)
	assert.Equal(t, "fw1", record.DeviceName)
	assert.Len(t, record.Checksum, 64)

	// 落盘产物可列出且校验通过
	records, err := store.List("fw1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, record.Checksum, records[0].Checksum)

	verified, err := store.Verify(records[0].ConfigFile)
	require.NoError(t, err)
	assert.Equal(t, record.Checksum, verified.Checksum)

	// 运行历史已记录
	require.Len(t, recorder.runs, 1)
	assert.Equal(t, model.RunStatusSuccess, recorder.runs[0].Status)
	assert.Equal(t, record.Filename, recorder.runs[0].Filename)
}

func TestFleetBackupOneDefaultsDeviceName(t *testing.T) {
	device := newFakeDevice()
	b := NewBackuper(testSettings(), dialerFor(device), nil)
	store := storage.NewStore(t.TempDir(), nil, nil)
	fleet := NewFleet(b, store, nil, nil)

	anon := testDevice()
	anon.Name = ""
	record, err := fleet.BackupOne(context.Background(), anon, model.BackupTypeFull)
	require.NoError(t, err)
	// 未命名设备取上报的主机名
	assert.Equal(t, "fw1", record.DeviceName)
}

func TestFleetBackupOneFallsBackToHost(t *testing.T) {
	device := newFakeDevice()
	device.responses["get system status"] = []string{"get system status\nOperation Mode: NAT\n" + fakePrompt}
	b := NewBackuper(testSettings(), dialerFor(device), nil)
	store := storage.NewStore(t.TempDir(), nil, nil)
	fleet := NewFleet(b, store, nil, nil)

	anon := testDevice()
	anon.Name = ""
	record, err := fleet.BackupOne(context.Background(), anon, model.BackupTypeFull)
	require.NoError(t, err)
	// 主机名也拿不到时退回 IP，点替换为下划线
	assert.Equal(t, "10_0_0_1", record.DeviceName)
}

func TestFleetBackupAllContinuesOnFailure(t *testing.T) {
	good := newFakeDevice()
	dial := func(_ context.Context, device config.DeviceConfig, _ time.Duration) (ssh.Channel, error) {
		if device.Name == "fw-bad" {
			return nil, errors.New("connection refused")
		}
		return good, nil
	}
	b := NewBackuper(testSettings(), dial, nil)
	store := storage.NewStore(t.TempDir(), nil, nil)
	recorder := &fakeRecorder{}
	fleet := NewFleet(b, store, recorder, nil)

	devices := []config.DeviceConfig{
		{Name: "fw-bad", Host: "10.0.0.9", Port: 22},
		testDevice(),
	}
	result := fleet.BackupAll(context.Background(), devices, model.BackupTypeFull)

	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, []string{"fw-bad"}, result.Failed)

	require.Len(t, recorder.runs, 2)
	assert.Equal(t, model.RunStatusFailed, recorder.runs[0].Status)
	assert.NotEmpty(t, recorder.runs[0].ErrorMsg)
	assert.Equal(t, model.RunStatusSuccess, recorder.runs[1].Status)
}
