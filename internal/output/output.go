// Package output 提供备份过程的控制台事件输出。
// 会话与编排逻辑不直接写控制台，统一通过注入的 Reporter 发事件，
// 便于 serve 模式与测试静默运行。
package output

import (
	"fmt"
	"io"
	"strings"
)

// 终端颜色码
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// Reporter 备份过程事件接收器
type Reporter interface {
	// Step 阶段性动作（黄色），例如 "Configuring console..."
	Step(format string, args ...interface{})
	// Progress 进行中信息（青色），例如已下载字节数
	Progress(format string, args ...interface{})
	// Success 成功事件（绿色，前缀 ✓）
	Success(format string, args ...interface{})
	// Failure 失败事件（红色，前缀 ✗）
	Failure(format string, args ...interface{})
	// Notice 一般提示（蓝色）
	Notice(format string, args ...interface{})
	// Plain 无修饰输出（表格、摘要等）
	Plain(format string, args ...interface{})
	// Banner 分隔横幅（青色等号线 + 标题）
	Banner(title string)
}

// Console 带颜色的控制台 Reporter
type Console struct {
	w        io.Writer
	useColor bool
}

// NewConsole 创建控制台 Reporter
func NewConsole(w io.Writer) *Console {
	return &Console{w: w, useColor: true}
}

// SetColor 开关颜色输出
func (c *Console) SetColor(enabled bool) {
	c.useColor = enabled
}

func (c *Console) color(code, s string) string {
	if !c.useColor {
		return s
	}
	return code + s + colorReset
}

func (c *Console) line(code, format string, args ...interface{}) {
	fmt.Fprintln(c.w, c.color(code, fmt.Sprintf(format, args...)))
}

func (c *Console) Step(format string, args ...interface{}) {
	c.line(colorYellow, format, args...)
}

func (c *Console) Progress(format string, args ...interface{}) {
	c.line(colorCyan, format, args...)
}

func (c *Console) Success(format string, args ...interface{}) {
	c.line(colorGreen, "✓ "+format, args...)
}

func (c *Console) Failure(format string, args ...interface{}) {
	c.line(colorRed, "✗ "+format, args...)
}

func (c *Console) Notice(format string, args ...interface{}) {
	c.line(colorBlue, format, args...)
}

func (c *Console) Plain(format string, args ...interface{}) {
	fmt.Fprintf(c.w, format+"\n", args...)
}

func (c *Console) Banner(title string) {
	sep := strings.Repeat("=", 50)
	c.line(colorCyan, "%s", sep)
	c.line(colorCyan+colorBold, "%s", title)
	c.line(colorCyan, "%s", sep)
}

// Discard 丢弃全部事件的 Reporter，用于测试与 serve 模式
type Discard struct{}

func (Discard) Step(string, ...interface{})     {}
func (Discard) Progress(string, ...interface{}) {}
func (Discard) Success(string, ...interface{})  {}
func (Discard) Failure(string, ...interface{})  {}
func (Discard) Notice(string, ...interface{})   {}
func (Discard) Plain(string, ...interface{})    {}
func (Discard) Banner(string)                   {}
