// Package chat implements the session and state engine of the line chat
// server: authentication with lockouts, the registry of online users,
// offline mailboxes, per-session block lists, message routing and command
// statistics. Transports hand each accepted connection to Hub.Serve.
package chat

import (
	"errors"
	"io"
	"log"
	"net"
	"os"
	"time"
)

var (
	ErrLocked           = errors.New("address and username are locked out")
	ErrTooManyFailures  = errors.New("too many failed authentication attempts")
	ErrAlreadyConnected = errors.New("user is already connected")
	ErrStreamClosed     = errors.New("connection closed during authentication")
	ErrSelfTarget       = errors.New("cannot target yourself")
	ErrUnknownUser      = errors.New("not a user of this chat server")
	ErrNotBlocked       = errors.New("user is not blocked")
	ErrSessionClosed    = errors.New("session closed by server")
)

var (
	errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
)

// SetDebugOutput enables (or, with io.Discard, disables) per-step debug
// logging of sessions.
func SetDebugOutput(w io.Writer) {
	debugLog.SetOutput(w)
}

// Conn is the line-oriented transport a session runs over. WriteLines must
// write its lines as one unit and be safe for concurrent use.
type Conn interface {
	ReadLine() (string, error)
	WriteLines(lines ...string) error
	RemoteAddr() net.Addr
	Close() error
}

// CredentialStore is the read-only username/password list.
type CredentialStore interface {
	Verify(username, password string) bool
	Exists(username string) bool
}

// Config holds the engine's timing policy
type Config struct {
	BlockDuration   time.Duration // Lockout length after repeated failures
	RecentWindow    time.Duration // wholasthr window
	IdleTimeout     time.Duration // 0 disables idle timeouts
	MaxAuthAttempts int           // Consecutive failures for one username before lockout

	// ResolveAddress turns a remote address into the string lockouts are
	// keyed by. Defaults to HostAddress.
	ResolveAddress func(net.Addr) string

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the default timing policy
func DefaultConfig() Config {
	return Config{
		BlockDuration:   time.Minute,
		RecentWindow:    time.Hour,
		IdleTimeout:     30 * time.Minute,
		MaxAuthAttempts: 3,
		ResolveAddress:  HostAddress,
		Now:             time.Now,
	}
}

// withDefaults fills zero fields from DefaultConfig
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BlockDuration <= 0 {
		c.BlockDuration = def.BlockDuration
	}
	if c.RecentWindow <= 0 {
		c.RecentWindow = def.RecentWindow
	}
	if c.IdleTimeout < 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.MaxAuthAttempts <= 0 {
		c.MaxAuthAttempts = def.MaxAuthAttempts
	}
	if c.ResolveAddress == nil {
		c.ResolveAddress = def.ResolveAddress
	}
	if c.Now == nil {
		c.Now = def.Now
	}
	return c
}
