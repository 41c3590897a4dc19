package chat

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/aeolun/linechat/pkg/protocol"
)

const testTimeout = 2 * time.Second

// mapCreds is a plain CredentialStore for tests
type mapCreds map[string]string

func (m mapCreds) Verify(username, password string) bool {
	stored, ok := m[username]
	return ok && username != "" && password != "" && stored == password
}

func (m mapCreds) Exists(username string) bool {
	_, ok := m[username]
	return ok
}

var testUsers = mapCreds{
	"alice": "pw1",
	"bob":   "pw2",
	"carol": "pw3",
}

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestHub(t *testing.T) (*Hub, *fakeClock) {
	t.Helper()
	return newTestHubWith(t, nil)
}

// newTestHubWith lets a test adjust the config before the hub is built
func newTestHubWith(t *testing.T, adjust func(*Config)) (*Hub, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.Now = clock.Now
	if adjust != nil {
		adjust(&cfg)
	}
	return NewHub(testUsers, cfg), clock
}

// pipeConn is the server end of a net.Pipe speaking the line protocol
type pipeConn struct {
	net.Conn
	reader *protocol.Reader
	mu     sync.Mutex
	addr   net.Addr
}

func (c *pipeConn) ReadLine() (string, error) {
	return c.reader.ReadLine()
}

func (c *pipeConn) WriteLines(lines ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return protocol.WriteLines(c.Conn, lines...)
}

func (c *pipeConn) RemoteAddr() net.Addr {
	return c.addr
}

// testClient is the client end. A single reader goroutine feeds received
// lines into a buffered channel so the server never blocks on a write.
type testClient struct {
	conn   net.Conn
	lines  chan string
	done   chan struct{}
	served chan error
}

// dial starts hub.Serve on a new pipe whose remote address is ip
func dial(t *testing.T, hub *Hub, ip string) *testClient {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	conn := &pipeConn{
		Conn:   serverSide,
		reader: protocol.NewReader(serverSide, 0),
		addr:   &net.TCPAddr{IP: net.ParseIP(ip), Port: 40000},
	}

	c := &testClient{
		conn:   clientSide,
		lines:  make(chan string, 256),
		done:   make(chan struct{}),
		served: make(chan error, 1),
	}
	go func() {
		defer close(c.done)
		r := protocol.NewReader(clientSide, 0)
		for {
			line, err := r.ReadLine()
			if err != nil {
				return
			}
			c.lines <- line
		}
	}()
	go func() {
		c.served <- hub.Serve(conn)
	}()

	t.Cleanup(c.close)
	return c
}

func (c *testClient) send(t *testing.T, line string) {
	t.Helper()
	c.conn.SetWriteDeadline(time.Now().Add(testTimeout))
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("send %q: %v", line, err)
	}
}

// next returns the next line or fails the test
func (c *testClient) next(t *testing.T) string {
	t.Helper()
	select {
	case line := <-c.lines:
		return line
	case <-c.done:
		select {
		case line := <-c.lines:
			return line
		default:
		}
		t.Fatalf("connection closed while waiting for a line")
	case <-time.After(testTimeout):
		t.Fatalf("timeout waiting for a line")
	}
	return ""
}

// expect asserts the next lines equal want, in order
func (c *testClient) expect(t *testing.T, want ...string) {
	t.Helper()
	for _, w := range want {
		if got := c.next(t); got != w {
			t.Fatalf("expected %q, got %q", w, got)
		}
	}
}

// until reads up to and including want, returning the lines before it
func (c *testClient) until(t *testing.T, want string) []string {
	t.Helper()
	var skipped []string
	for {
		line := c.next(t)
		if line == want {
			return skipped
		}
		skipped = append(skipped, line)
	}
}

// expectSilence asserts nothing arrives for a short while
func (c *testClient) expectSilence(t *testing.T) {
	t.Helper()
	select {
	case line := <-c.lines:
		t.Fatalf("expected no output, got %q", line)
	case <-time.After(100 * time.Millisecond):
	}
}

// expectClosed drains remaining lines and waits for Serve to return
func (c *testClient) expectClosed(t *testing.T) ([]string, error) {
	t.Helper()
	var rest []string
	for {
		select {
		case line := <-c.lines:
			rest = append(rest, line)
		case err := <-c.served:
			<-c.done
			for {
				select {
				case line := <-c.lines:
					rest = append(rest, line)
				default:
					return rest, err
				}
			}
		case <-time.After(testTimeout):
			t.Fatalf("timeout waiting for session to end")
		}
	}
}

func (c *testClient) close() {
	c.conn.Close()
}

// login runs the exchange for user and consumes output through the first
// command prompt, returning the lines between the welcome and the prompt.
func login(t *testing.T, hub *Hub, user, pass string) (*testClient, []string) {
	t.Helper()
	return loginFrom(t, hub, "10.0.0.1", user, pass)
}

func loginFrom(t *testing.T, hub *Hub, ip, user, pass string) (*testClient, []string) {
	t.Helper()
	c := dial(t, hub, ip)
	c.expect(t, protocol.PromptUsername)
	c.send(t, user)
	c.expect(t, protocol.PromptPassword)
	c.send(t, pass)
	c.expect(t, protocol.Welcome)
	return c, c.until(t, protocol.PromptCommand)
}

// waitFor polls cond until it holds
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
