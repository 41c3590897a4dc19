package chat

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeolun/linechat/pkg/protocol"
)

// Session is the server side of one client connection. Once authenticated
// it is registered in the Registry as the user's Handle.
type Session struct {
	hub          *Hub
	conn         Conn
	username     string // set once, before the session is registered
	lastActivity atomic.Int64
	terminated   atomic.Bool

	// Block list. Only this session mutates it; senders read it on delivery.
	blockMu sync.RWMutex
	blocked map[string]struct{}
}

func newSession(hub *Hub, conn Conn) *Session {
	s := &Session{
		hub:     hub,
		conn:    conn,
		blocked: make(map[string]struct{}),
	}
	s.touch()
	return s
}

// Username returns the authenticated username ("" before authentication)
func (s *Session) Username() string {
	return s.username
}

// send writes lines to this session's client
func (s *Session) send(lines ...string) error {
	if err := s.conn.WriteLines(lines...); err != nil {
		debugLog.Printf("Session %s: write failed: %v", s.label(), err)
		return err
	}
	return nil
}

func (s *Session) label() string {
	if s.username == "" {
		return HostAddress(s.conn.RemoteAddr())
	}
	return s.username
}

func (s *Session) touch() {
	s.lastActivity.Store(s.hub.now().UnixNano())
}

// LastActivity implements Handle
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// DeliverDirect implements Handle. A failed write terminates the session.
func (s *Session) DeliverDirect(from, body string) (bool, error) {
	if s.IsBlocking(from) {
		debugLog.Printf("Session %s: discarded message from blocked user %s", s.label(), from)
		return false, nil
	}
	if err := s.deliver(from, body); err != nil {
		return false, err
	}
	return true, nil
}

// DeliverBroadcast implements Handle. A failed write terminates the session.
func (s *Session) DeliverBroadcast(from, body string) error {
	return s.deliver(from, body)
}

func (s *Session) deliver(from, body string) error {
	if err := s.send(protocol.ChatLine(from, body), protocol.PromptCommand); err != nil {
		s.Terminate("")
		return fmt.Errorf("deliver to %s: %w", s.label(), err)
	}
	return nil
}

// Terminate implements Handle. Only the first call has an effect.
func (s *Session) Terminate(notice string) {
	if !s.terminated.CompareAndSwap(false, true) {
		return
	}
	if notice != "" {
		s.send(notice)
	}
	s.conn.Close()
}

// Block adds username to the block list
func (s *Session) Block(username string) error {
	if username == s.username {
		return fmt.Errorf("block %s: %w", username, ErrSelfTarget)
	}
	s.blockMu.Lock()
	s.blocked[username] = struct{}{}
	s.blockMu.Unlock()
	return nil
}

// Unblock removes username from the block list
func (s *Session) Unblock(username string) error {
	s.blockMu.Lock()
	defer s.blockMu.Unlock()

	if _, ok := s.blocked[username]; !ok {
		return fmt.Errorf("unblock %s: %w", username, ErrNotBlocked)
	}
	delete(s.blocked, username)
	return nil
}

// IsBlocking reports whether messages from username are discarded
func (s *Session) IsBlocking(username string) bool {
	s.blockMu.RLock()
	defer s.blockMu.RUnlock()

	_, ok := s.blocked[username]
	return ok
}

// BlockList returns the blocked usernames sorted
func (s *Session) BlockList() []string {
	s.blockMu.RLock()
	names := make([]string, 0, len(s.blocked))
	for name := range s.blocked {
		names = append(names, name)
	}
	s.blockMu.RUnlock()

	sort.Strings(names)
	return names
}
