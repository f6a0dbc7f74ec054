package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构（设备清单 + 备份设置 + 基础设施配置）
type Config struct {
	Devices        []DeviceConfig `mapstructure:"devices"`
	BackupSettings BackupSettings `mapstructure:"backup_settings"`
	Storage        StorageConfig  `mapstructure:"storage"`
	Database       DatabaseConfig `mapstructure:"database"`
	Server         ServerConfig   `mapstructure:"server"`
	Log            LogConfig      `mapstructure:"log"`
}

// DeviceConfig 单台防火墙的连接描述
type DeviceConfig struct {
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Port     int    `mapstructure:"port"`
	// Type 设备默认备份类型：full | config（留空时取 backup_settings.default_type）
	Type string `mapstructure:"type"`
}

// BackupSettings 备份行为设置
type BackupSettings struct {
	// DefaultType 默认备份类型：full | config
	DefaultType string `mapstructure:"default_type"`
	// BackupPath 备份产物根目录（每台设备一个子目录）
	BackupPath string `mapstructure:"backup_path"`
	// Timeout 连接与普通命令的超时（秒）
	Timeout int `mapstructure:"timeout"`
	// CommandTimeout 备份命令（show full-configuration）的超时（秒）
	CommandTimeout int `mapstructure:"command_timeout"`
}

// StorageConfig 产物镜像存储配置
type StorageConfig struct {
	Minio MinioConfig `mapstructure:"minio"`
}

// MinioConfig 对象存储配置（本地保存成功后的异地镜像，失败不阻断备份）
type MinioConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Secure    bool   `mapstructure:"secure"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

// SQLiteConfig SQLite配置（备份历史记录）
type SQLiteConfig struct {
	Path            string        `mapstructure:"path"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ServerConfig serve 模式的 HTTP 服务配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// 全局配置可能被 serve 模式的热更新协程替换，
// 读写都经过锁，API 处理器并发读取时不撕裂
var (
	globalMu       sync.RWMutex
	globalConfig   *Config
	usedConfigFile string
)

// Load 加载配置文件（设备清单 YAML）
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("devices")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// 环境变量覆盖，例如 FGBACKUP_LOG_LEVEL=debug
	v.SetEnvPrefix("FGBACKUP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 设备项校正：端口与默认备份类型
	for i := range config.Devices {
		if config.Devices[i].Port < 1 || config.Devices[i].Port > 65535 {
			config.Devices[i].Port = 22
		}
		if strings.TrimSpace(config.Devices[i].Type) == "" {
			config.Devices[i].Type = config.BackupSettings.DefaultType
		}
	}

	globalMu.Lock()
	globalConfig = &config
	usedConfigFile = v.ConfigFileUsed()
	globalMu.Unlock()
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// 备份设置默认值
	v.SetDefault("backup_settings.default_type", "full")
	v.SetDefault("backup_settings.backup_path", "./backups")
	v.SetDefault("backup_settings.timeout", 30)
	// 大配置可能需要数分钟下载
	v.SetDefault("backup_settings.command_timeout", 120)

	// 镜像存储默认关闭
	v.SetDefault("storage.minio.enabled", false)
	v.SetDefault("storage.minio.secure", false)

	// 历史记录数据库
	v.SetDefault("database.sqlite.path", "./data/fgbackup.db")
	v.SetDefault("database.sqlite.conn_max_lifetime", time.Hour)

	// serve 模式。备份接口是同步执行的，写超时必须覆盖
	// command_timeout（默认 120 秒）加建连与落盘的余量
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 300*time.Second)

	// 日志默认级别 info，输出到 stderr 与滚动文件
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "both")
	v.SetDefault("log.file_path", "./logs/fgbackup.log")
	v.SetDefault("log.max_size", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)
}

// Get 获取全局配置的当前快照。热更新替换的是整个指针，
// 调用方拿到的实例不会被原地修改。
func Get() *Config {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalConfig
}

// UsedFile 实际加载的配置文件路径（热更新监听用）
func UsedFile() string {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return usedConfigFile
}

// FindDevice 按名称查找设备
func (c *Config) FindDevice(name string) (DeviceConfig, bool) {
	for _, d := range c.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return DeviceConfig{}, false
}

// GetServerAddr 获取服务器地址
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
