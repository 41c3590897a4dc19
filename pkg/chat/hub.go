package chat

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aeolun/linechat/pkg/protocol"
)

// Hub owns the state shared by all sessions. Each structure has its own
// lock, and no lock is held while writing to a connection.
type Hub struct {
	cfg      Config
	creds    CredentialStore
	guard    *AbuseGuard
	registry *Registry
	mailbox  *Mailbox
	recent   *RecentConnections
	stats    *Statistics
	router   *Router
	metrics  *Metrics
}

// NewHub creates a hub authenticating against creds
func NewHub(creds CredentialStore, cfg Config) *Hub {
	cfg = cfg.withDefaults()

	h := &Hub{
		cfg:      cfg,
		creds:    creds,
		guard:    NewAbuseGuard(cfg.BlockDuration, cfg.Now),
		registry: NewRegistry(),
		mailbox:  NewMailbox(),
		recent:   NewRecentConnections(cfg.RecentWindow, cfg.Now),
		stats:    NewStatistics(),
	}
	h.router = &Router{
		creds:    creds,
		registry: h.registry,
		mailbox:  h.mailbox,
	}
	return h
}

// SetMetrics attaches metrics to the hub
func (h *Hub) SetMetrics(metrics *Metrics) {
	h.metrics = metrics
	h.router.metrics = metrics
}

// Accessors for the hub's configuration and shared state
func (h *Hub) Config() Config                        { return h.cfg }
func (h *Hub) Guard() *AbuseGuard                    { return h.guard }
func (h *Hub) Registry() *Registry                   { return h.registry }
func (h *Hub) Mailbox() *Mailbox                     { return h.mailbox }
func (h *Hub) RecentConnections() *RecentConnections { return h.recent }
func (h *Hub) Statistics() *Statistics               { return h.stats }
func (h *Hub) Router() *Router                       { return h.router }

func (h *Hub) now() time.Time {
	return h.cfg.Now()
}

// Serve runs one connection from login to disconnect and closes it. It
// returns nil when the client logs out, times out or hangs up, and the
// authentication or transport error otherwise.
func (h *Hub) Serve(conn Conn) error {
	defer conn.Close()

	sess := newSession(h, conn)
	offline, err := NewAuthenticator(h, sess).Authenticate()
	h.metrics.RecordAuthResult(authResultLabel(err))
	if err != nil {
		debugLog.Printf("Session %s: authentication ended: %v", sess.label(), err)
		return err
	}

	h.metrics.RecordActiveSessions(h.registry.Count())
	defer func() {
		h.registry.DisconnectHandle(sess.username, sess)
		h.metrics.RecordActiveSessions(h.registry.Count())
		debugLog.Printf("Session %s: disconnected", sess.username)
	}()

	sess.touch()
	greeting := []string{protocol.Welcome}
	if len(offline) > 0 {
		greeting = append(greeting, protocol.OfflineHeader)
		greeting = append(greeting, offline...)
	}
	greeting = append(greeting, protocol.PromptCommand)
	if err := sess.send(greeting...); err != nil {
		return fmt.Errorf("greeting %s: %w", sess.username, err)
	}

	dispatcher := NewDispatcher(h, sess)
	for {
		line, err := conn.ReadLine()
		if err != nil {
			return h.readError(sess, err)
		}

		// Idle time is only checked when input arrives; ExpireIdle covers
		// clients that stay silent.
		if h.idleExpired(sess, h.now()) {
			sess.send(protocol.TimedOut)
			h.metrics.RecordTimeout()
			debugLog.Printf("Session %s: timed out", sess.username)
			return nil
		}

		if dispatcher.Dispatch(line) {
			return nil
		}
		if err := sess.send(protocol.PromptCommand); err != nil {
			return fmt.Errorf("prompt %s: %w", sess.username, err)
		}
	}
}

func (h *Hub) readError(sess *Session, err error) error {
	switch {
	case sess.terminated.Load():
		return nil
	case errors.Is(err, io.EOF):
		return nil
	case errors.Is(err, protocol.ErrLineTooLong):
		sess.send(protocol.LineTooLong)
	}
	return fmt.Errorf("read %s: %w", sess.username, err)
}

func (h *Hub) idleExpired(sess Handle, now time.Time) bool {
	return h.cfg.IdleTimeout > 0 && now.Sub(sess.LastActivity()) >= h.cfg.IdleTimeout
}

// ExpireIdle terminates every online session idle for at least the idle
// timeout and returns how many were terminated.
func (h *Hub) ExpireIdle() int {
	now := h.now()
	expired := 0
	for _, e := range h.registry.Snapshot() {
		if !h.idleExpired(e.Handle, now) {
			continue
		}
		e.Handle.Terminate(protocol.TimedOut)
		h.metrics.RecordTimeout()
		debugLog.Printf("Session %s: expired after inactivity", e.Username)
		expired++
	}
	return expired
}

// CloseAll terminates every online session with notice
func (h *Hub) CloseAll(notice string) int {
	entries := h.registry.Snapshot()
	for _, e := range entries {
		e.Handle.Terminate(notice)
	}
	return len(entries)
}
