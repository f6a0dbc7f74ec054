package model

// SystemInfo 设备基础信息（get system status 解析结果）
// 固定键：version、serial、hostname；解析不到的键直接缺省，不视为错误
type SystemInfo map[string]string

// BackupType 备份类型枚举
const (
	BackupTypeFull   = "full"
	BackupTypeConfig = "config"
)

// BackupRecord 备份元数据记录，与配置产物文件一一对应（同名 .json）
type BackupRecord struct {
	DeviceName string     `json:"device_name"`
	BackupType string     `json:"backup_type"`
	Timestamp  string     `json:"timestamp"` // 格式 YYYYMMDD_HHMMSS，字典序等价于时间序
	Filename   string     `json:"filename"`
	FileSize   int        `json:"file_size"`
	Checksum   string     `json:"checksum"` // 产物文件字节的 SHA-256（hex）
	SystemInfo SystemInfo `json:"system_info"`

	// 以下两项在 List 时回填，指向磁盘上的实际文件
	ConfigFile   string `json:"config_file,omitempty"`
	MetadataFile string `json:"metadata_file,omitempty"`
}
