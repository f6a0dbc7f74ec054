// Package storage 管理本地备份产物库：配置文件 + 同名元数据 + 校验。
// 本地目录是唯一权威存储，对象存储镜像只做尽力而为的副本。
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/fgbackuppro/fgbackuppro/internal/model"
	"github.com/fgbackuppro/fgbackuppro/internal/output"
	"github.com/fgbackuppro/fgbackuppro/pkg/logger"
)

// timestampLayout 产物文件名里的时间戳格式，字典序即时间序
const timestampLayout = "20060102_150405"

// unsafeFilenameChars 设备名里需要替换的文件系统保留字符
var unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// ErrNotFound 要校验的产物文件不存在
var ErrNotFound = errors.New("backup file not found")

// MismatchError 产物文件内容与记录的校验和不一致
type MismatchError struct {
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected %s..., got %s...",
		prefix16(e.Expected), prefix16(e.Actual))
}

func prefix16(s string) string {
	if len(s) > 16 {
		return s[:16]
	}
	return s
}

// Mirror 产物的远端镜像写入器
type Mirror interface {
	Put(ctx context.Context, objectName string, data []byte) error
}

// Store 本地备份库。目录结构：
//
//	{basePath}/{设备名}/{设备名}_{类型}_{时间戳}.cfg
//	{basePath}/{设备名}/{设备名}_{类型}_{时间戳}.json
type Store struct {
	basePath string
	mirror   Mirror
	reporter output.Reporter

	// now 可注入，测试用
	now func() time.Time
}

// NewStore 创建备份库，mirror 可为 nil
func NewStore(basePath string, mirror Mirror, reporter output.Reporter) *Store {
	if reporter == nil {
		reporter = output.Discard{}
	}
	return &Store{
		basePath: basePath,
		mirror:   mirror,
		reporter: reporter,
		now:      time.Now,
	}
}

// sanitizeFilename 将文件系统保留字符替换为下划线
func sanitizeFilename(name string) string {
	return unsafeFilenameChars.ReplaceAllString(name, "_")
}

// Save 持久化一次备份：先写配置文件，成功后再写元数据。
// 校验和按写入磁盘的精确字节计算。
func (s *Store) Save(ctx context.Context, deviceName, backupType, content string, info model.SystemInfo) (*model.BackupRecord, error) {
	safeName := sanitizeFilename(deviceName)
	deviceDir := filepath.Join(s.basePath, safeName)
	if err := os.MkdirAll(deviceDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	timestamp := s.now().Format(timestampLayout)
	baseName := fmt.Sprintf("%s_%s_%s", safeName, backupType, timestamp)
	configPath := filepath.Join(deviceDir, baseName+".cfg")
	metadataPath := filepath.Join(deviceDir, baseName+".json")

	data := []byte(content)
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write backup file: %w", err)
	}

	sum := sha256.Sum256(data)
	record := &model.BackupRecord{
		DeviceName: deviceName,
		BackupType: backupType,
		Timestamp:  timestamp,
		Filename:   baseName + ".cfg",
		FileSize:   len(data),
		Checksum:   hex.EncodeToString(sum[:]),
		SystemInfo: info,
	}

	metaBytes, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode backup metadata: %w", err)
	}
	if err := os.WriteFile(metadataPath, metaBytes, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write backup metadata: %w", err)
	}

	s.reporter.Success("Backup saved: %s", configPath)
	s.reporter.Plain("  Size: %d bytes", record.FileSize)
	s.reporter.Plain("  Checksum: %s...", prefix16(record.Checksum))
	logger.Infof("Backup saved for %s: %s (%d bytes)", deviceName, record.Filename, record.FileSize)

	// 镜像失败不影响本地备份结果
	if s.mirror != nil {
		objectName := safeName + "/" + baseName + ".cfg"
		if err := s.mirror.Put(ctx, objectName, data); err != nil {
			logger.Warnf("Failed to mirror backup %s: %v", objectName, err)
			s.reporter.Notice("Mirror upload failed for %s (local copy is intact)", record.Filename)
		}
	}

	return record, nil
}

// List 列出备份记录，新的在前。deviceFilter 为空时列出全部设备。
// 缺少配置文件的孤儿元数据会被跳过。
func (s *Store) List(deviceFilter string) ([]*model.BackupRecord, error) {
	var deviceDirs []string

	if deviceFilter != "" {
		deviceDirs = []string{filepath.Join(s.basePath, sanitizeFilename(deviceFilter))}
	} else {
		entries, err := os.ReadDir(s.basePath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to read backup directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				deviceDirs = append(deviceDirs, filepath.Join(s.basePath, entry.Name()))
			}
		}
	}

	var records []*model.BackupRecord
	for _, dir := range deviceDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read device directory: %w", err)
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}

			metadataPath := filepath.Join(dir, entry.Name())
			configPath := strings.TrimSuffix(metadataPath, ".json") + ".cfg"
			if _, err := os.Stat(configPath); err != nil {
				logger.Debugf("Skipping orphan metadata %s: %v", metadataPath, err)
				continue
			}

			metaBytes, err := os.ReadFile(metadataPath)
			if err != nil {
				logger.Warnf("Failed to read metadata %s: %v", metadataPath, err)
				continue
			}

			record := &model.BackupRecord{}
			if err := json.Unmarshal(metaBytes, record); err != nil {
				logger.Warnf("Failed to parse metadata %s: %v", metadataPath, err)
				continue
			}
			record.ConfigFile = configPath
			record.MetadataFile = metadataPath
			records = append(records, record)
		}
	}

	// 时间戳字典序等价于时间序，新的在前
	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp > records[j].Timestamp
	})
	return records, nil
}

// Verify 校验产物文件内容与元数据记录的校验和是否一致。
// 文件不存在返回 ErrNotFound，不一致返回 *MismatchError。
func (s *Store) Verify(configPath string) (*model.BackupRecord, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read backup file: %w", err)
	}

	metadataPath := strings.TrimSuffix(configPath, filepath.Ext(configPath)) + ".json"
	metaBytes, err := os.ReadFile(metadataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read backup metadata: %w", err)
	}

	record := &model.BackupRecord{}
	if err := json.Unmarshal(metaBytes, record); err != nil {
		return nil, fmt.Errorf("failed to parse backup metadata: %w", err)
	}

	sum := sha256.Sum256(data)
	actual := hex.EncodeToString(sum[:])
	if actual != record.Checksum {
		return nil, &MismatchError{Expected: record.Checksum, Actual: actual}
	}

	record.ConfigFile = configPath
	record.MetadataFile = metadataPath
	return record, nil
}
