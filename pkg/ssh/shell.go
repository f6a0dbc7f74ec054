package ssh

import (
	"bytes"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/fgbackuppro/fgbackuppro/internal/output"
	"github.com/fgbackuppro/fgbackuppro/internal/util"
	"github.com/fgbackuppro/fgbackuppro/pkg/logger"
)

const (
	// pageMarker FortiOS 分页提示，出现时发送空格请求下一屏
	pageMarker = "--More--"
	// pollInterval 轮询间隔：避免空转烧CPU，同时保证亚秒级响应
	pollInterval = 5 * time.Millisecond
	// progressStep 每累计多少字节发一次下载进度事件
	progressStep = 5000
)

// promptMarkers 空闲提示符特征子串（含登录与密码提示）
var promptMarkers = []string{"# ", "$ ", "> ", "login:", "Password:"}

// containsPromptMarker 判断缓冲区内是否出现过空闲提示符。
// 有意使用宽松的子串匹配：配置正文中出现同样子串会误判，属已知取舍；
// 如需更严格的判定（如要求行尾匹配），只改这一个判定函数即可。
func containsPromptMarker(buf string) bool {
	for _, marker := range promptMarkers {
		if strings.Contains(buf, marker) {
			return true
		}
	}
	return false
}

// endsWithPromptChar 判断累计输出去除尾部空白后是否以提示符终止字符结尾
func endsWithPromptChar(buf string) bool {
	trimmed := strings.TrimSpace(buf)
	if trimmed == "" {
		return false
	}
	last := trimmed[len(trimmed)-1]
	return last == '#' || last == '$'
}

// Shell 交互式会话驱动：提示符同步、分页续页与单命令执行。
// 只依赖 Channel 能力集合，不关心底层传输实现。
type Shell struct {
	ch       Channel
	reporter output.Reporter
}

// NewShell 创建会话驱动
func NewShell(ch Channel, reporter output.Reporter) *Shell {
	if reporter == nil {
		reporter = output.Discard{}
	}
	return &Shell{ch: ch, reporter: reporter}
}

// WaitForPrompt 等待远端产生空闲提示符，返回期间累计的输出。
// 超时不视为错误，返回已累计内容，由调用方决定如何处理。
func (s *Shell) WaitForPrompt(timeout time.Duration) string {
	var buf bytes.Buffer
	deadline := time.Now().Add(timeout)

	// 截止时间每轮都检查：持续产生输出的设备不能让等待变成无界
	for !time.Now().After(deadline) {
		if chunk, ready := s.ch.Recv(); ready {
			buf.Write(chunk)
			if containsPromptMarker(buf.String()) {
				break
			}
			continue
		}
		time.Sleep(pollInterval)
	}

	return util.EnsureUTF8Bytes(buf.Bytes())
}

// Execute 执行单条命令直至命令完成或超时。
// 返回值：output 为累计输出（UTF-8），timedOut 标记是否因超时退出（非致命，
// 调用方自行检查输出），err 仅在通道写入失败等致命场景返回。
func (s *Shell) Execute(command string, timeout time.Duration, showProgress bool) (string, bool, error) {
	if err := s.ch.Send(command + "\n"); err != nil {
		return "", false, err
	}

	var buf bytes.Buffer
	deadline := time.Now().Add(timeout)
	lastReported := 0
	timedOut := false

	if showProgress {
		s.reporter.Step("Downloading configuration data...")
	}

	for {
		// 无论是否有数据到达都先检查截止时间，避免高频输出把等待拖成无界
		if time.Now().After(deadline) {
			logger.Warnf("Command %q timed out after %s", command, timeout)
			s.reporter.Failure("Command timeout reached")
			timedOut = true
			break
		}

		chunk, ready := s.ch.Recv()
		if ready {
			buf.Write(chunk)

			// 每越过 5KB 边界输出一次进度
			if showProgress && buf.Len() > lastReported+progressStep {
				s.reporter.Progress("   Downloaded: %s bytes...", humanize.Comma(int64(buf.Len())))
				lastReported = buf.Len()
			}

			// 分页提示出现在新收到的数据块里：发空格续页，不视为命令结束
			if bytes.Contains(chunk, []byte(pageMarker)) {
				s.reporter.Step("Handling pagination...")
				if err := s.ch.Send(" "); err != nil {
					return util.EnsureUTF8Bytes(buf.Bytes()), false, err
				}
				continue
			}

			// 尾部出现提示符终止字符，命令完成
			if endsWithPromptChar(buf.String()) {
				break
			}
			continue
		}

		// 无数据时让出CPU
		time.Sleep(pollInterval)
	}

	if showProgress {
		s.reporter.Success("Download complete: %s bytes", humanize.Comma(int64(buf.Len())))
	}

	return util.EnsureUTF8Bytes(buf.Bytes()), timedOut, nil
}
