package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fgbackuppro/fgbackuppro/internal/config"
	"github.com/fgbackuppro/fgbackuppro/internal/database"
	"github.com/fgbackuppro/fgbackuppro/internal/model"
	"github.com/fgbackuppro/fgbackuppro/internal/service"
	"github.com/fgbackuppro/fgbackuppro/internal/storage"
)

// BackupHandler 备份接口处理器
type BackupHandler struct {
	fleet *service.Fleet
	store *storage.Store
	runs  *database.RunStore
}

func NewBackupHandler(fleet *service.Fleet, store *storage.Store, runs *database.RunStore) *BackupHandler {
	return &BackupHandler{fleet: fleet, store: store, runs: runs}
}

// Health 健康检查
func (h *BackupHandler) Health(c *gin.Context) {
	status := gin.H{"status": "ok"}
	if err := database.Health(); err != nil {
		status["status"] = "degraded"
		status["database"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}

// TriggerBackupRequest 触发备份请求体
type TriggerBackupRequest struct {
	Device string `json:"device" binding:"required"`
	Type   string `json:"type"`
}

// TriggerBackup 对单台设备触发一次备份。
// 会话串行由编排器内部保证，备份进行中时请求排队而非并发。
func (h *BackupHandler) TriggerBackup(c *gin.Context) {
	var req TriggerBackupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	cfg := config.Get()
	device, ok := cfg.FindDevice(req.Device)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": "DEVICE_NOT_FOUND", "message": "device not found: " + req.Device})
		return
	}

	backupType := strings.TrimSpace(req.Type)
	if backupType == "" {
		backupType = device.Type
	}
	if backupType != model.BackupTypeFull && backupType != model.BackupTypeConfig {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PARAMS", "message": "type must be full or config"})
		return
	}

	record, err := h.fleet.BackupOne(c.Request.Context(), device, backupType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "BACKUP_FAILED", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, record)
}

// ListBackups 列出备份记录，新的在前
func (h *BackupHandler) ListBackups(c *gin.Context) {
	records, err := h.store.List(c.Query("device"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "ERROR", "message": err.Error()})
		return
	}
	if records == nil {
		records = []*model.BackupRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"total": len(records), "backups": records})
}

// VerifyBackupRequest 校验请求体
type VerifyBackupRequest struct {
	Path string `json:"path" binding:"required"`
}

// VerifyBackup 校验一个备份产物的完整性
func (h *BackupHandler) VerifyBackup(c *gin.Context) {
	var req VerifyBackupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	record, err := h.store.Verify(req.Path)
	if err != nil {
		var mismatch *storage.MismatchError
		switch {
		case errors.Is(err, storage.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": err.Error()})
		case errors.As(err, &mismatch):
			c.JSON(http.StatusConflict, gin.H{
				"code":     "CHECKSUM_MISMATCH",
				"message":  err.Error(),
				"expected": mismatch.Expected,
				"actual":   mismatch.Actual,
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"code": "ERROR", "message": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": true, "record": record})
}

// History 备份运行历史
func (h *BackupHandler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.runs.ListRuns(c.Query("device"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "ERROR", "message": err.Error()})
		return
	}
	if runs == nil {
		runs = []model.BackupRun{}
	}
	c.JSON(http.StatusOK, gin.H{"total": len(runs), "runs": runs})
}

// ListDevices 当前配置里的设备清单（不含口令）
func (h *BackupHandler) ListDevices(c *gin.Context) {
	cfg := config.Get()
	type deviceView struct {
		Name string `json:"name"`
		Host string `json:"host"`
		Port int    `json:"port"`
		Type string `json:"type"`
	}
	devices := make([]deviceView, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		devices = append(devices, deviceView{Name: d.Name, Host: d.Host, Port: d.Port, Type: d.Type})
	}
	c.JSON(http.StatusOK, gin.H{"total": len(devices), "devices": devices})
}
