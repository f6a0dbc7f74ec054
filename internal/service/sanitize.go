package service

import (
	"strings"

	"github.com/fgbackuppro/fgbackuppro/internal/model"
)

// 配置正文起始特征：FortiOS 配置头或首个配置块
const (
	configVersionPrefix = "#config-version="
	configBlockPrefix   = "config "
)

// CleanConfigOutput 将命令的原始输出清洗为纯配置正文：
// 丢弃配置头之前的全部内容（横幅、回显、提示符），正文内再剔除提示符行、
// show 回显、分页残留与进度残留；其余行原样保留（含空行），最后去掉尾部空行。
// 对已清洗的输入再次清洗是幂等的。
func CleanConfigOutput(raw string) string {
	lines := strings.Split(raw, "\n")
	cleaned := make([]string, 0, len(lines))

	skipUntilConfig := true
	for _, line := range lines {
		stripped := strings.TrimSpace(line)

		// 定位配置正文起点
		if skipUntilConfig {
			if strings.HasPrefix(stripped, configVersionPrefix) || strings.HasPrefix(stripped, configBlockPrefix) {
				skipUntilConfig = false
				cleaned = append(cleaned, line)
			}
			continue
		}

		// 提示符行、命令回显、分页与进度残留
		if strings.HasSuffix(stripped, "#") ||
			strings.HasSuffix(stripped, "$") ||
			strings.HasPrefix(stripped, "show") ||
			stripped == "--More--" ||
			strings.Contains(stripped, "Handling pagination...") ||
			strings.Contains(stripped, "Downloaded:") {
			continue
		}

		cleaned = append(cleaned, line)
	}

	// 去掉尾部空行
	for len(cleaned) > 0 && strings.TrimSpace(cleaned[len(cleaned)-1]) == "" {
		cleaned = cleaned[:len(cleaned)-1]
	}

	return strings.Join(cleaned, "\n")
}

// ParseSystemInfo 从 get system status 的原始输出解析设备基础信息。
// 只认三个固定标签；识别不到的行忽略，解析永不失败。
func ParseSystemInfo(raw string) model.SystemInfo {
	info := model.SystemInfo{}
	for _, line := range strings.Split(raw, "\n") {
		switch {
		case strings.Contains(line, "Version:"):
			info["version"] = valueAfterColon(line)
		case strings.Contains(line, "Serial-Number:"):
			info["serial"] = valueAfterColon(line)
		case strings.Contains(line, "Hostname:"):
			info["hostname"] = valueAfterColon(line)
		}
	}
	return info
}

// valueAfterColon 取第一个冒号之后的文本并去除首尾空白
func valueAfterColon(line string) string {
	parts := strings.SplitN(line, ":", 2)
	if len(parts) < 2 {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
