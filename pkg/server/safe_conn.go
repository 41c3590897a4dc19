package server

import (
	"net"
	"sync"
	"time"

	"github.com/aeolun/linechat/pkg/protocol"
)

// SafeConn wraps a net.Conn as a line connection with write synchronization.
//
// A session's own replies and deliveries from other sessions (direct
// messages, broadcasts) are written from different goroutines. Without the
// mutex their lines could interleave mid-line on the wire.
type SafeConn struct {
	conn         net.Conn
	reader       *protocol.Reader
	writeTimeout time.Duration
	mu           sync.Mutex // Protects writes to conn
}

// NewSafeConn wraps conn. maxLineLength bounds a single input line;
// writeTimeout (0 for none) bounds how long one write may block.
func NewSafeConn(conn net.Conn, maxLineLength int, writeTimeout time.Duration) *SafeConn {
	return &SafeConn{
		conn:         conn,
		reader:       protocol.NewReader(conn, maxLineLength),
		writeTimeout: writeTimeout,
	}
}

// ReadLine reads the next input line. Only the session's own goroutine reads.
func (sc *SafeConn) ReadLine() (string, error) {
	return sc.reader.ReadLine()
}

// WriteLines writes lines as one unit with automatic write synchronization
func (sc *SafeConn) WriteLines(lines ...string) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.writeTimeout > 0 {
		sc.conn.SetWriteDeadline(time.Now().Add(sc.writeTimeout))
	}
	return protocol.WriteLines(sc.conn, lines...)
}

// Close closes the underlying connection
func (sc *SafeConn) Close() error {
	return sc.conn.Close()
}

// RemoteAddr returns the remote network address
func (sc *SafeConn) RemoteAddr() net.Addr {
	return sc.conn.RemoteAddr()
}
