package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fgbackuppro/fgbackuppro/internal/model"
)

const testConfig = `#config-version=FGT60E-6.4.5-FW-build1828-210217:opmode=0
config system global
    set hostname "fw1"
end
`

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), nil, nil)
}

func TestSaveWritesConfigAndMetadata(t *testing.T) {
	store := newTestStore(t)

	info := model.SystemInfo{"hostname": "fw1", "serial": "FGT60E0000000001"}
	record, err := store.Save(context.Background(), "fw1", model.BackupTypeFull, testConfig, info)
	require.NoError(t, err)

	assert.Equal(t, "fw1", record.DeviceName)
	assert.Equal(t, model.BackupTypeFull, record.BackupType)
	assert.Equal(t, len(testConfig), record.FileSize)
	assert.Len(t, record.Checksum, 64)

	configPath := filepath.Join(store.basePath, "fw1", record.Filename)
	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, testConfig, string(data))

	metadataPath := configPath[:len(configPath)-len(".cfg")] + ".json"
	_, err = os.Stat(metadataPath)
	assert.NoError(t, err)
}

func TestSaveSanitizesDeviceName(t *testing.T) {
	store := newTestStore(t)

	record, err := store.Save(context.Background(), `fw/edge:01`, model.BackupTypeConfig, testConfig, nil)
	require.NoError(t, err)

	// 原始设备名保留在元数据里，文件名只用替换后的版本
	assert.Equal(t, "fw/edge:01", record.DeviceName)
	assert.Contains(t, record.Filename, "fw_edge_01")
	_, err = os.Stat(filepath.Join(store.basePath, "fw_edge_01", record.Filename))
	assert.NoError(t, err)
}

func TestListReturnsSavedRecord(t *testing.T) {
	store := newTestStore(t)

	saved, err := store.Save(context.Background(), "fw1", model.BackupTypeFull, testConfig, model.SystemInfo{"hostname": "fw1"})
	require.NoError(t, err)

	records, err := store.List("")
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	assert.Equal(t, saved.DeviceName, got.DeviceName)
	assert.Equal(t, saved.Timestamp, got.Timestamp)
	assert.Equal(t, saved.Checksum, got.Checksum)
	assert.Equal(t, saved.FileSize, got.FileSize)
	assert.Equal(t, "fw1", got.SystemInfo["hostname"])
	assert.NotEmpty(t, got.ConfigFile)
	assert.NotEmpty(t, got.MetadataFile)
}

func TestListNewestFirst(t *testing.T) {
	store := newTestStore(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		store.now = func() time.Time { return ts }
		_, err := store.Save(context.Background(), "fw1", model.BackupTypeFull, testConfig, nil)
		require.NoError(t, err)
	}

	records, err := store.List("fw1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "20260301_100200", records[0].Timestamp)
	assert.Equal(t, "20260301_100000", records[2].Timestamp)
}

func TestListFiltersByDevice(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save(context.Background(), "fw1", model.BackupTypeFull, testConfig, nil)
	require.NoError(t, err)
	_, err = store.Save(context.Background(), "fw2", model.BackupTypeFull, testConfig, nil)
	require.NoError(t, err)

	records, err := store.List("fw2")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "fw2", records[0].DeviceName)
}

func TestListSkipsOrphanMetadata(t *testing.T) {
	store := newTestStore(t)

	record, err := store.Save(context.Background(), "fw1", model.BackupTypeFull, testConfig, nil)
	require.NoError(t, err)

	configPath := filepath.Join(store.basePath, "fw1", record.Filename)
	require.NoError(t, os.Remove(configPath))

	records, err := store.List("")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestListEmptyStore(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing"), nil, nil)

	records, err := store.List("")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestVerifyIntactFile(t *testing.T) {
	store := newTestStore(t)

	record, err := store.Save(context.Background(), "fw1", model.BackupTypeFull, testConfig, nil)
	require.NoError(t, err)

	configPath := filepath.Join(store.basePath, "fw1", record.Filename)
	verified, err := store.Verify(configPath)
	require.NoError(t, err)
	assert.Equal(t, record.Checksum, verified.Checksum)
}

func TestVerifyDetectsTamper(t *testing.T) {
	store := newTestStore(t)

	record, err := store.Save(context.Background(), "fw1", model.BackupTypeFull, testConfig, nil)
	require.NoError(t, err)

	// 翻转一个字节后校验必须失败
	configPath := filepath.Join(store.basePath, "fw1", record.Filename)
	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	data[0] ^= 0xff
	require.NoError(t, os.WriteFile(configPath, data, 0o644))

	_, err = store.Verify(configPath)
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, record.Checksum, mismatch.Expected)
	assert.NotEqual(t, mismatch.Expected, mismatch.Actual)
}

func TestVerifyMissingFile(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Verify(filepath.Join(store.basePath, "fw1", "nope.cfg"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "fw1", sanitizeFilename("fw1"))
	assert.Equal(t, "fw_edge_01", sanitizeFilename(`fw/edge:01`))
	assert.Equal(t, "a_b_c_d_e_f_g_h_i", sanitizeFilename(`a<b>c:d"e/f\g|h?i`))
}
