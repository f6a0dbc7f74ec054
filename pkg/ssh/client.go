package ssh

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Config SSH配置
type Config struct {
	Timeout time.Duration `yaml:"timeout"`
}

// ConnectionInfo SSH连接信息
type ConnectionInfo struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Channel 交互通道能力抽象：发送原始文本、非阻塞接收、关闭。
// 会话驱动层只依赖该能力集合，便于测试时用内存实现替换真实 SSH。
type Channel interface {
	// Send 向远端写入原始文本（调用方自行附加行结束符）
	Send(data string) error
	// Recv 非阻塞接收：ready 为 false 表示当前没有可读数据
	Recv() (data []byte, ready bool)
	// Close 关闭通道
	Close() error
}

// Client 到单台设备的 SSH 交互式会话。
// 独占底层连接与 shell 通道，断开后不可复用；每台设备单独建一个 Client。
type Client struct {
	config *Config
	info   *ConnectionInfo

	mutex     sync.Mutex
	conn      *ssh.Client
	session   *ssh.Session
	stdin     io.WriteCloser
	recv      chan []byte
	connected bool
}

// NewClient 创建SSH客户端
func NewClient(config *Config) *Client {
	return &Client{config: config}
}

// Connect 连接设备并打开交互式 shell 通道
func (c *Client) Connect(ctx context.Context, info *ConnectionInfo) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.connected {
		return fmt.Errorf("already connected to %s", c.info.Host)
	}
	c.info = info

	sshConfig := &ssh.ClientConfig{
		User:            info.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.config.Timeout,
		Config: ssh.Config{
			// 支持旧版本固件的密钥交换算法
			KeyExchanges: []string{
				"diffie-hellman-group14-sha256",
				"diffie-hellman-group14-sha1",
				"diffie-hellman-group1-sha1",
				"diffie-hellman-group-exchange-sha256",
				"diffie-hellman-group-exchange-sha1",
				"ecdh-sha2-nistp256",
				"ecdh-sha2-nistp384",
				"ecdh-sha2-nistp521",
			},
			// 支持旧版本的加密算法
			Ciphers: []string{
				"aes128-ctr",
				"aes192-ctr",
				"aes256-ctr",
				"aes128-gcm@openssh.com",
				"aes256-gcm@openssh.com",
				"aes128-cbc",
				"aes192-cbc",
				"aes256-cbc",
				"3des-cbc",
			},
			// 支持旧版本的MAC算法
			MACs: []string{
				"hmac-sha2-256-etm@openssh.com",
				"hmac-sha2-256",
				"hmac-sha1",
				"hmac-sha1-96",
			},
		},
		// 支持旧版本主机密钥算法
		HostKeyAlgorithms: []string{
			"ssh-rsa",
			"rsa-sha2-256",
			"rsa-sha2-512",
			"ecdsa-sha2-nistp256",
			"ecdsa-sha2-nistp384",
			"ecdsa-sha2-nistp521",
		},
	}

	// 同时尝试 password 与 keyboard-interactive，提高与防火墙的兼容性
	if info.Password != "" {
		sshConfig.Auth = []ssh.AuthMethod{
			ssh.Password(info.Password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = info.Password
				}
				return answers, nil
			}),
		}
	}

	address := fmt.Sprintf("%s:%d", info.Host, info.Port)

	// 使用context控制连接超时
	dialer := &net.Dialer{
		Timeout: c.config.Timeout,
	}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, sshConfig)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create SSH connection: %w", err)
	}
	c.conn = ssh.NewClient(sshConn, chans, reqs)

	if err := c.openShell(); err != nil {
		c.conn.Close()
		c.conn = nil
		return err
	}

	c.connected = true
	return nil
}

// openShell 申请 PTY 并启动交互式 shell，建立读协程
func (c *Client) openShell() error {
	session, err := c.conn.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	// 启用回显，兼容设备CLI；终端类型按 vt100 → xterm → ansi → dumb 回退
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	var ptyErr error
	for _, term := range []string{"vt100", "xterm", "ansi", "dumb"} {
		if ptyErr = session.RequestPty(term, 80, 24, modes); ptyErr == nil {
			break
		}
	}
	if ptyErr != nil {
		session.Close()
		return fmt.Errorf("failed to request pty: %w", ptyErr)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return fmt.Errorf("failed to get stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return fmt.Errorf("failed to get stdout: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return fmt.Errorf("failed to get stderr: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return fmt.Errorf("failed to start shell: %w", err)
	}

	c.session = session
	c.stdin = stdin
	c.recv = make(chan []byte, 256)

	// 读协程：stdout/stderr 合并推入接收通道，通道读端通过 Recv 非阻塞取数据
	var readers sync.WaitGroup
	pump := func(r io.Reader) {
		defer readers.Done()
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				c.recv <- chunk
			}
			if err != nil {
				return
			}
		}
	}
	readers.Add(2)
	go pump(stdout)
	go pump(stderr)
	go func() {
		readers.Wait()
		close(c.recv)
	}()

	return nil
}

// Send 向 shell 写入原始文本
func (c *Client) Send(data string) error {
	if !c.IsConnected() {
		return fmt.Errorf("no active SSH connection")
	}
	if _, err := c.stdin.Write([]byte(data)); err != nil {
		return fmt.Errorf("failed to write to shell: %w", err)
	}
	return nil
}

// Recv 非阻塞接收一块已到达的数据
func (c *Client) Recv() ([]byte, bool) {
	if c.recv == nil {
		return nil, false
	}
	select {
	case chunk, ok := <-c.recv:
		if !ok {
			return nil, false
		}
		return chunk, true
	default:
		return nil, false
	}
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.connected
}

// Close 关闭 shell 通道与底层连接
func (c *Client) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.connected {
		return nil
	}
	c.connected = false

	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	if c.session != nil {
		_ = c.session.Close()
		c.session = nil
	}
	if c.recv != nil {
		// 排空接收通道，让读协程顺利退出
		go func(ch chan []byte) {
			for range ch {
			}
		}(c.recv)
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
