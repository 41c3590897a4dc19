// Package client is a programmatic linechat client speaking the line
// protocol over TCP, SSH or WebSocket.
package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aeolun/linechat/pkg/protocol"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	defaultTCPPort  = "4000"
	defaultSSHPort  = "4001"
	defaultHTTPPort = "8080"
)

var (
	ErrTimeout        = errors.New("timed out waiting for server")
	ErrClosed         = errors.New("connection closed")
	ErrBadCredentials = errors.New("credentials rejected")
	ErrRejected       = errors.New("login refused")
	ErrUnexpected     = errors.New("unexpected server output")
)

// Options tune Dial. The zero value is usable.
type Options struct {
	Timeout time.Duration // Dial and handshake timeout (default 5s)

	// SSH host key verification. HostKeyCallback wins over KnownHostsFile;
	// with neither set any host key is accepted.
	HostKeyCallback ssh.HostKeyCallback
	KnownHostsFile  string
}

// transport moves whole lines
type transport interface {
	readLine() (string, error)
	writeLine(line string) error
	close() error
}

// Conn is a connection to a linechat server. A single reader goroutine
// buffers incoming lines; Next and the helpers built on it consume them.
type Conn struct {
	addr      string
	transport transport
	lines     chan string
	closing   chan struct{}
	done      chan struct{}
	err       error // Read error that ended the reader, valid after done
	sendMu    sync.Mutex
	closeOnce sync.Once
}

// Dial connects to addr. Accepted forms are "host:port" and "tcp://host:port"
// for plain TCP, "ssh://[user@]host:port" and "ws://host:port[/path]".
func Dial(addr string, opts Options) (*Conn, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	tr, display, err := dialTransport(addr, opts)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		addr:      display,
		transport: tr,
		lines:     make(chan string, 256),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Conn) readLoop() {
	defer close(c.done)
	for {
		line, err := c.transport.readLine()
		if err != nil {
			c.err = err
			return
		}
		select {
		case c.lines <- line:
		case <-c.closing:
			c.err = ErrClosed
			return
		}
	}
}

// Addr returns the dialed address including its scheme
func (c *Conn) Addr() string {
	return c.addr
}

// Send writes one input line
func (c *Conn) Send(line string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.transport.writeLine(line)
}

// Next returns the next line from the server. After the server hangs up
// and every buffered line has been read it returns ErrClosed.
func (c *Conn) Next(timeout time.Duration) (string, error) {
	select {
	case line := <-c.lines:
		return line, nil
	default:
	}

	select {
	case line := <-c.lines:
		return line, nil
	case <-c.done:
		select {
		case line := <-c.lines:
			return line, nil
		default:
		}
		return "", fmt.Errorf("%w: %v", ErrClosed, c.err)
	case <-time.After(timeout):
		return "", ErrTimeout
	}
}

// Until reads up to and including want and returns the lines before it
func (c *Conn) Until(want string, timeout time.Duration) ([]string, error) {
	deadline := time.Now().Add(timeout)
	var before []string
	for {
		line, err := c.Next(time.Until(deadline))
		if err != nil {
			return before, err
		}
		if line == want {
			return before, nil
		}
		before = append(before, line)
	}
}

// Drain reads until the server hangs up and returns everything it sent
func (c *Conn) Drain(timeout time.Duration) ([]string, error) {
	deadline := time.Now().Add(timeout)
	var rest []string
	for {
		line, err := c.Next(time.Until(deadline))
		if errors.Is(err, ErrClosed) {
			return rest, nil
		}
		if err != nil {
			return rest, err
		}
		rest = append(rest, line)
	}
}

// Login answers the username and password prompts. On success it returns
// the offline messages delivered with the welcome banner and leaves the
// connection at the command prompt.
//
// ErrBadCredentials leaves the server prompting for a username again, so
// Login may be called again on the same connection. ErrRejected means the
// server refused the login (lockout, too many failures or the user is
// already online) and hung up; the error carries its explanation.
func (c *Conn) Login(username, password string, timeout time.Duration) ([]string, error) {
	if err := c.expect(protocol.PromptUsername, timeout); err != nil {
		return nil, err
	}
	if err := c.Send(username); err != nil {
		return nil, err
	}

	line, err := c.Next(timeout)
	if err != nil {
		return nil, err
	}
	if line != protocol.PromptPassword {
		return nil, c.rejected(line, timeout)
	}
	if err := c.Send(password); err != nil {
		return nil, err
	}

	line, err = c.Next(timeout)
	if err != nil {
		return nil, err
	}
	switch line {
	case protocol.Welcome:
	case protocol.CredentialsFailed:
		return nil, ErrBadCredentials
	default:
		return nil, c.rejected(line, timeout)
	}

	greeting, err := c.Until(protocol.PromptCommand, timeout)
	if err != nil {
		return nil, err
	}
	if len(greeting) > 0 && greeting[0] == protocol.OfflineHeader {
		greeting = greeting[1:]
	}
	return greeting, nil
}

func (c *Conn) rejected(first string, timeout time.Duration) error {
	rest, _ := c.Drain(timeout)
	msg := strings.Join(append([]string{first}, rest...), " ")
	return fmt.Errorf("%w: %s", ErrRejected, msg)
}

func (c *Conn) expect(want string, timeout time.Duration) error {
	line, err := c.Next(timeout)
	if err != nil {
		return err
	}
	if line != want {
		return fmt.Errorf("%w: expected %q, got %q", ErrUnexpected, want, line)
	}
	return nil
}

// Command sends a command and returns its output up to the next prompt.
// Messages delivered from other users in the meantime are included.
func (c *Conn) Command(line string, timeout time.Duration) ([]string, error) {
	if err := c.Send(line); err != nil {
		return nil, err
	}
	return c.Until(protocol.PromptCommand, timeout)
}

// Logout sends logout and waits for the server to hang up
func (c *Conn) Logout(timeout time.Duration) error {
	if err := c.Send("logout"); err != nil {
		return err
	}
	rest, err := c.Drain(timeout)
	if err != nil {
		return err
	}
	for _, line := range rest {
		if line == protocol.Farewell {
			return nil
		}
	}
	return fmt.Errorf("%w: no farewell in %q", ErrUnexpected, rest)
}

// Close closes the connection and waits for the reader to stop
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		err = c.transport.close()
		<-c.done
	})
	return err
}

// ---------------------------------------------------------------------------
// Transports
// ---------------------------------------------------------------------------

func dialTransport(raw string, opts Options) (transport, string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, "", errors.New("server address is empty")
	}

	scheme := "tcp"
	user := ""
	hostPort := trimmed
	path := ""
	if strings.Contains(trimmed, "://") {
		u, err := url.Parse(trimmed)
		if err != nil {
			return nil, "", fmt.Errorf("invalid server address %q: %w", raw, err)
		}
		scheme = strings.ToLower(u.Scheme)
		if u.User != nil {
			user = u.User.Username()
		}
		hostPort = u.Host
		path = u.Path
	}

	switch scheme {
	case "tcp":
		address, err := joinWithDefaultPort(hostPort, defaultTCPPort)
		if err != nil {
			return nil, "", err
		}
		conn, err := net.DialTimeout("tcp", address, opts.Timeout)
		if err != nil {
			return nil, "", fmt.Errorf("dial failed: %w", err)
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetNoDelay(true)
		}
		return newStreamTransport(conn), "tcp://" + address, nil

	case "ssh":
		address, err := joinWithDefaultPort(hostPort, defaultSSHPort)
		if err != nil {
			return nil, "", err
		}
		if user == "" {
			user = "linechat"
		}
		conn, err := dialSSH(user, address, opts)
		if err != nil {
			return nil, "", err
		}
		return newStreamTransport(conn), fmt.Sprintf("ssh://%s@%s", user, address), nil

	case "ws", "wss":
		address, err := joinWithDefaultPort(hostPort, defaultHTTPPort)
		if err != nil {
			return nil, "", err
		}
		if path == "" {
			path = "/ws"
		}
		wsURL := fmt.Sprintf("%s://%s%s", scheme, address, path)
		dialer := websocket.Dialer{HandshakeTimeout: opts.Timeout}
		conn, _, err := dialer.Dial(wsURL, nil)
		if err != nil {
			return nil, "", fmt.Errorf("websocket dial %s: %w", wsURL, err)
		}
		return &wsTransport{conn: conn}, wsURL, nil
	}

	return nil, "", fmt.Errorf("unsupported server scheme %q", scheme)
}

func joinWithDefaultPort(hostPort, defaultPort string) (string, error) {
	hostPort = strings.TrimSpace(hostPort)
	if hostPort == "" {
		return "", errors.New("missing host in server address")
	}

	host, port, err := net.SplitHostPort(hostPort)
	if err == nil {
		return net.JoinHostPort(host, port), nil
	}

	var addrErr *net.AddrError
	if errors.As(err, &addrErr) && strings.Contains(strings.ToLower(addrErr.Err), "missing port") {
		host = strings.TrimPrefix(strings.TrimSuffix(hostPort, "]"), "[")
		return net.JoinHostPort(host, defaultPort), nil
	}
	return "", err
}

// streamTransport carries newline-terminated lines over a byte stream
type streamTransport struct {
	conn   net.Conn
	reader *protocol.Reader
}

func newStreamTransport(conn net.Conn) *streamTransport {
	// The server bounds line length, not the client
	return &streamTransport{conn: conn, reader: protocol.NewReader(conn, 1<<20)}
}

func (t *streamTransport) readLine() (string, error) {
	return t.reader.ReadLine()
}

func (t *streamTransport) writeLine(line string) error {
	return protocol.WriteLines(t.conn, line)
}

func (t *streamTransport) close() error {
	return t.conn.Close()
}

// wsTransport carries one line per text message
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) readLine() (string, error) {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if msgType == websocket.TextMessage {
			return string(data), nil
		}
	}
}

func (t *wsTransport) writeLine(line string) error {
	return t.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (t *wsTransport) close() error {
	return t.conn.Close()
}

func dialSSH(user, address string, opts Options) (net.Conn, error) {
	hostKeyCallback := opts.HostKeyCallback
	if hostKeyCallback == nil && opts.KnownHostsFile != "" {
		cb, err := knownhosts.New(opts.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		hostKeyCallback = cb
	}
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password("")},
		HostKeyCallback: hostKeyCallback,
		Timeout:         opts.Timeout,
	}
	client, err := ssh.Dial("tcp", address, config)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", address, err)
	}

	channel, requests, err := client.OpenChannel("session", nil)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ssh open channel: %w", err)
	}
	go ssh.DiscardRequests(requests)

	return &sshClientConn{
		channel:    channel,
		client:     client,
		localAddr:  client.LocalAddr(),
		remoteAddr: client.RemoteAddr(),
	}, nil
}

type sshClientConn struct {
	channel    ssh.Channel
	client     *ssh.Client
	localAddr  net.Addr
	remoteAddr net.Addr
	once       sync.Once
}

func (c *sshClientConn) Read(b []byte) (int, error) {
	return c.channel.Read(b)
}

func (c *sshClientConn) Write(b []byte) (int, error) {
	return c.channel.Write(b)
}

func (c *sshClientConn) Close() error {
	var err error
	c.once.Do(func() {
		if closeErr := c.channel.Close(); closeErr != nil && !errors.Is(closeErr, io.EOF) {
			err = closeErr
		}
		c.client.Close()
	})
	return err
}

func (c *sshClientConn) LocalAddr() net.Addr                { return c.localAddr }
func (c *sshClientConn) RemoteAddr() net.Addr               { return c.remoteAddr }
func (c *sshClientConn) SetDeadline(t time.Time) error      { return nil }
func (c *sshClientConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *sshClientConn) SetWriteDeadline(t time.Time) error { return nil }
