package chat

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeolun/linechat/pkg/protocol"
)

// scriptConn replays scripted input and records everything written
type scriptConn struct {
	in       []string
	out      []string
	closed   bool
	writeErr error // returned by every write when set
}

func (c *scriptConn) ReadLine() (string, error) {
	if len(c.in) == 0 {
		return "", io.EOF
	}
	line := c.in[0]
	c.in = c.in[1:]
	return line, nil
}

func (c *scriptConn) WriteLines(lines ...string) error {
	if c.closed {
		return net.ErrClosed
	}
	if c.writeErr != nil {
		return c.writeErr
	}
	c.out = append(c.out, lines...)
	return nil
}

func (c *scriptConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP("192.0.2.7"), Port: 5555}
}

func (c *scriptConn) Close() error {
	c.closed = true
	return nil
}

func runAuth(hub *Hub, input ...string) (*Authenticator, *scriptConn, []string, error) {
	conn := &scriptConn{in: input}
	a := NewAuthenticator(hub, newSession(hub, conn))
	offline, err := a.Authenticate()
	return a, conn, offline, err
}

func TestAuthenticateSuccess(t *testing.T) {
	hub, _ := newTestHub(t)
	hub.Mailbox().Enqueue("alice", "bob: hi")

	a, conn, offline, err := runAuth(hub, "alice", "pw1")
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, a.State())
	assert.Equal(t, "192.0.2.7", a.Address())
	assert.Equal(t, []string{"bob: hi"}, offline)
	assert.Equal(t, []string{protocol.PromptUsername, protocol.PromptPassword}, conn.out)
	assert.True(t, hub.Registry().IsConnected("alice"))
	assert.Equal(t, []string{"alice"}, hub.RecentConnections().Refresh(nil))
}

func TestAuthenticateThirdAttemptSucceeds(t *testing.T) {
	hub, _ := newTestHub(t)

	a, _, _, err := runAuth(hub, "alice", "x", "alice", "y", "alice", "pw1")
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, a.State())
	assert.False(t, hub.Guard().IsLocked("192.0.2.7", "alice"))
}

func TestAuthenticateLockout(t *testing.T) {
	hub, _ := newTestHub(t)

	a, conn, _, err := runAuth(hub, "alice", "x", "alice", "y", "alice", "z")
	require.ErrorIs(t, err, ErrTooManyFailures)
	assert.Equal(t, StateRejected, a.State())
	assert.Equal(t, protocol.TooManyFailures(time.Minute), conn.out[len(conn.out)-2:])
	assert.True(t, hub.Guard().IsLocked("192.0.2.7", "alice"))
	assert.False(t, hub.Registry().IsConnected("alice"))

	// Refused before a password is asked for
	a, conn, _, err = runAuth(hub, "alice", "pw1")
	require.ErrorIs(t, err, ErrLocked)
	assert.Equal(t, StateRejected, a.State())
	assert.Equal(t, []string{protocol.PromptUsername, protocol.LockedOut("alice", "192.0.2.7")}, conn.out)
}

func TestAuthenticateUsernameSwitchResetsCount(t *testing.T) {
	hub, _ := newTestHub(t)

	a, _, _, err := runAuth(hub,
		"alice", "x",
		"alice", "x",
		"bob", "x",
		"alice", "x",
		"alice", "x",
	)
	require.ErrorIs(t, err, ErrStreamClosed, "input ran out before any lockout")
	assert.Equal(t, StateRejected, a.State())
	assert.False(t, hub.Guard().IsLocked("192.0.2.7", "alice"))
	assert.False(t, hub.Guard().IsLocked("192.0.2.7", "bob"))
}

func TestAuthenticateSwitchToLockedUsername(t *testing.T) {
	hub, _ := newTestHub(t)
	hub.Guard().RecordFailure("192.0.2.7", "bob")

	_, conn, _, err := runAuth(hub, "alice", "x", "bob")
	require.ErrorIs(t, err, ErrLocked)
	assert.Equal(t, protocol.LockedOut("bob", "192.0.2.7"), conn.out[len(conn.out)-1])
}

func TestAuthenticateAlreadyConnected(t *testing.T) {
	hub, _ := newTestHub(t)
	hub.Mailbox().Enqueue("alice", "bob: queued")
	first := &stubHandle{}
	claimed, err := hub.Mailbox().ClaimOnConnect("alice", func() error {
		return hub.Registry().Connect("alice", first)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"bob: queued"}, claimed)

	a, conn, _, err := runAuth(hub, "alice", "pw1")
	require.ErrorIs(t, err, ErrAlreadyConnected)
	assert.Equal(t, StateRejected, a.State())
	assert.Equal(t, protocol.AlreadyConnected("alice"), conn.out[len(conn.out)-2:])

	h, _ := hub.Registry().Lookup("alice")
	assert.Same(t, first, h)
	assert.Zero(t, hub.Mailbox().Pending("alice"), "the first session claimed the mail")
}

func TestAuthenticateStreamClosed(t *testing.T) {
	hub, _ := newTestHub(t)

	a, _, _, err := runAuth(hub)
	require.ErrorIs(t, err, ErrStreamClosed)
	assert.Equal(t, StateRejected, a.State())
	assert.Empty(t, a.Address(), "address is resolved after the first username")

	a, _, _, err = runAuth(hub, "alice")
	require.ErrorIs(t, err, ErrStreamClosed)
	assert.Equal(t, "192.0.2.7", a.Address())
}

func TestAuthenticateResolveAddress(t *testing.T) {
	hub, _ := newTestHubWith(t, func(cfg *Config) {
		cfg.ResolveAddress = func(net.Addr) string { return "host.example" }
	})

	_, _, _, err := runAuth(hub, "alice", "x", "alice", "x", "alice", "x")
	require.ErrorIs(t, err, ErrTooManyFailures)
	assert.True(t, hub.Guard().IsLocked("host.example", "alice"))
}

func TestAuthResultLabel(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, AuthSuccess},
		{ErrLocked, AuthLocked},
		{ErrTooManyFailures, AuthTooManyFailures},
		{ErrAlreadyConnected, AuthAlreadyConnected},
		{ErrStreamClosed, AuthStreamClosed},
		{errors.New("other"), AuthStreamClosed},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, authResultLabel(tc.err), "%v", tc.err)
	}
}

func TestAuthStateString(t *testing.T) {
	assert.Equal(t, "awaiting-username", StateAwaitingUsername.String())
	assert.Equal(t, "rejected", StateRejected.String())
	assert.Equal(t, "AuthState(42)", AuthState(42).String())
}
