package ssh

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChannel 内存通道实现，模拟设备端行为
type fakeChannel struct {
	mu     sync.Mutex
	sent   []string
	chunks [][]byte
	onSend func(f *fakeChannel, data string)
	closed bool
}

func (f *fakeChannel) Send(data string) error {
	f.mu.Lock()
	f.sent = append(f.sent, data)
	f.mu.Unlock()
	if f.onSend != nil {
		f.onSend(f, data)
	}
	return nil
}

func (f *fakeChannel) Recv() ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.chunks) == 0 {
		return nil, false
	}
	chunk := f.chunks[0]
	f.chunks = f.chunks[1:]
	return chunk, true
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) push(data string) {
	f.mu.Lock()
	f.chunks = append(f.chunks, []byte(data))
	f.mu.Unlock()
}

func (f *fakeChannel) sentData() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func TestContainsPromptMarker(t *testing.T) {
	// 五种空闲提示符特征均应命中
	assert.True(t, containsPromptMarker("FGT-01 # "))
	assert.True(t, containsPromptMarker("some output\nuser$ "))
	assert.True(t, containsPromptMarker("FGT-01 > "))
	assert.True(t, containsPromptMarker("FortiGate login:"))
	assert.True(t, containsPromptMarker("Password:"))

	assert.False(t, containsPromptMarker(""))
	assert.False(t, containsPromptMarker("config firewall policy"))
	// 单独的 # 后无空格不算空闲提示符子串
	assert.False(t, containsPromptMarker("#config-version=FGT60F"))
}

func TestEndsWithPromptChar(t *testing.T) {
	assert.True(t, endsWithPromptChar("output\nFGT-01 #"))
	assert.True(t, endsWithPromptChar("output\nFGT-01 # \r\n"))
	assert.True(t, endsWithPromptChar("done$"))
	assert.False(t, endsWithPromptChar("config system console"))
	assert.False(t, endsWithPromptChar(""))
	assert.False(t, endsWithPromptChar("   \n  "))
}

func TestWaitForPromptReturnsOnMarker(t *testing.T) {
	ch := &fakeChannel{}
	ch.push("Fortinet FortiGate\n")
	ch.push("FGT-01 # ")

	shell := NewShell(ch, nil)
	out := shell.WaitForPrompt(2 * time.Second)

	assert.Contains(t, out, "FortiGate")
	assert.True(t, strings.HasSuffix(out, "# "))
}

func TestWaitForPromptTimeoutReturnsPartial(t *testing.T) {
	ch := &fakeChannel{}
	ch.push("banner without prompt\n")

	shell := NewShell(ch, nil)
	start := time.Now()
	out := shell.WaitForPrompt(50 * time.Millisecond)

	// 超时非致命：返回已累计内容
	assert.Contains(t, out, "banner without prompt")
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecuteCompletesOnPrompt(t *testing.T) {
	ch := &fakeChannel{
		onSend: func(f *fakeChannel, data string) {
			if strings.HasPrefix(data, "get system status") {
				f.push("get system status\n")
				f.push("Version: FortiGate-60F v7.0.12\n")
				f.push("FGT-01 # ")
			}
		},
	}

	shell := NewShell(ch, nil)
	out, timedOut, err := shell.Execute("get system status", 2*time.Second, false)

	require.NoError(t, err)
	assert.False(t, timedOut)
	assert.Contains(t, out, "Version: FortiGate-60F v7.0.12")
}

func TestExecuteHandlesPagination(t *testing.T) {
	ch := &fakeChannel{}
	ch.onSend = func(f *fakeChannel, data string) {
		switch {
		case strings.HasPrefix(data, "show"):
			f.push("config firewall policy\n--More--")
		case data == " ":
			// 续页请求：输出剩余内容与提示符
			f.push("\r    set name \"allow-out\"\nend\nFGT-01 # ")
		}
	}

	shell := NewShell(ch, nil)
	out, timedOut, err := shell.Execute("show", 2*time.Second, false)

	require.NoError(t, err)
	assert.False(t, timedOut)
	// 分页后续内容完整到达
	assert.Contains(t, out, "set name \"allow-out\"")
	assert.Contains(t, out, "end")
	// 确认发送过一次空格续页
	assert.Contains(t, ch.sentData(), " ")
}

// chatterChannel 永远有数据可读且从不出现提示符，
// 模拟持续刷控制台日志的设备
type chatterChannel struct{}

func (chatterChannel) Send(string) error { return nil }
func (chatterChannel) Recv() ([]byte, bool) {
	return []byte("log: interface port1 link status changed\n"), true
}
func (chatterChannel) Close() error { return nil }

func TestExecuteTimeoutWhileDataKeepsArriving(t *testing.T) {
	shell := NewShell(chatterChannel{}, nil)

	start := time.Now()
	out, timedOut, err := shell.Execute("show", 100*time.Millisecond, false)

	// 数据持续到达也必须在截止时间附近返回
	require.NoError(t, err)
	assert.True(t, timedOut)
	assert.Less(t, time.Since(start), time.Second)
	assert.Contains(t, out, "link status changed")
}

func TestWaitForPromptTimeoutWhileDataKeepsArriving(t *testing.T) {
	shell := NewShell(chatterChannel{}, nil)

	start := time.Now()
	out := shell.WaitForPrompt(100 * time.Millisecond)

	assert.Less(t, time.Since(start), time.Second)
	assert.Contains(t, out, "link status changed")
}

func TestExecuteTimeoutReturnsAccumulated(t *testing.T) {
	ch := &fakeChannel{
		onSend: func(f *fakeChannel, data string) {
			if strings.HasPrefix(data, "show") {
				// 只回一半输出，不给提示符
				f.push("config firewall policy\n")
			}
		},
	}

	shell := NewShell(ch, nil)
	out, timedOut, err := shell.Execute("show", 60*time.Millisecond, false)

	require.NoError(t, err)
	assert.True(t, timedOut)
	assert.Contains(t, out, "config firewall policy")
}
