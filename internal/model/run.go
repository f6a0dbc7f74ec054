package model

import (
	"time"
)

// BackupRun 一次备份尝试的历史记录（无论成败都会入库）
type BackupRun struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	DeviceName string    `json:"device_name" gorm:"type:varchar(128);not null;index"`
	Host       string    `json:"host" gorm:"type:varchar(64);not null"`
	BackupType string    `json:"backup_type" gorm:"type:varchar(16);not null"`
	Status     string    `json:"status" gorm:"type:varchar(16);not null"`
	ErrorMsg   string    `json:"error_msg" gorm:"type:text"`
	Filename   string    `json:"filename" gorm:"type:varchar(256)"`
	FileSize   int       `json:"file_size"`
	Checksum   string    `json:"checksum" gorm:"type:varchar(64)"`
	Duration   int64     `json:"duration"` // 执行时长，毫秒
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 表名
func (BackupRun) TableName() string {
	return "backup_runs"
}

// BackupRun 状态枚举
const (
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)
