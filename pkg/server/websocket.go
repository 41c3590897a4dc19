package server

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aeolun/linechat/pkg/protocol"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Browser clients may be served from any origin
	},
}

// HandleWebSocket upgrades the request and runs the chat protocol on it.
// Every text message from the client is one input line (several lines may
// be sent in one message, separated by newlines); every output line is sent
// as its own text message.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		debugLog.Printf("WebSocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	wsConn := newWebSocketConn(conn, s.config.MaxLineLength, s.config.WriteTimeout)
	if !s.track(wsConn) {
		wsConn.Close()
		return
	}
	defer s.untrack(wsConn)

	s.serveConn(wsConn, "websocket")
}

// WebSocketConn adapts a gorilla/websocket connection to the line protocol
type WebSocketConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	pending      []string // Lines of a multi-line message not yet read

	mu        sync.Mutex // Protects writes to conn
	closeOnce sync.Once
}

func newWebSocketConn(conn *websocket.Conn, maxLineLength int, writeTimeout time.Duration) *WebSocketConn {
	if maxLineLength <= 0 {
		maxLineLength = protocol.MaxLineLength
	}
	// Room for the line ending some clients append
	conn.SetReadLimit(int64(maxLineLength) + 2)
	return &WebSocketConn{
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

// ReadLine returns the next input line
func (c *WebSocketConn) ReadLine() (string, error) {
	for len(c.pending) == 0 {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if err == websocket.ErrReadLimit {
				return "", fmt.Errorf("%w: %v", protocol.ErrLineTooLong, err)
			}
			return "", err
		}
		if msgType != websocket.TextMessage {
			continue
		}

		text := strings.TrimSuffix(string(data), "\n")
		for _, line := range strings.Split(text, "\n") {
			c.pending = append(c.pending, protocol.TrimLineEnding(line))
		}
	}

	line := c.pending[0]
	c.pending = c.pending[1:]
	return line, nil
}

// WriteLines sends each line as a text message, holding the write lock for
// the whole batch
func (c *WebSocketConn) WriteLines(lines ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	for _, line := range lines {
		if err := c.conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return err
		}
	}
	return nil
}

// Close sends a close frame (best effort) and closes the connection
func (c *WebSocketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// RemoteAddr returns the remote network address
func (c *WebSocketConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
