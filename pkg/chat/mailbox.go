package chat

import "sync"

// Mailbox queues rendered messages for users who are offline. Messages for
// one recipient keep their arrival order and duplicates are kept.
//
// Lock order: Mailbox before Registry. EnqueueIfOffline and ClaimOnConnect
// consult the registry while holding the mailbox lock so a message can never
// be queued for a user who is already online.
type Mailbox struct {
	mu     sync.Mutex
	queues map[string][]string
}

// NewMailbox creates an empty mailbox
func NewMailbox() *Mailbox {
	return &Mailbox{
		queues: make(map[string][]string),
	}
}

// Enqueue appends message to username's queue
func (m *Mailbox) Enqueue(username, message string) {
	m.mu.Lock()
	m.queues[username] = append(m.queues[username], message)
	m.mu.Unlock()
}

// EnqueueIfOffline queues message unless lookup finds username online, in
// which case the handle is returned for immediate delivery.
func (m *Mailbox) EnqueueIfOffline(username, message string, lookup func(string) (Handle, bool)) (Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, online := lookup(username); online {
		return h, false
	}
	m.queues[username] = append(m.queues[username], message)
	return nil, true
}

// Drain removes and returns username's queue
func (m *Mailbox) Drain(username string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.drainLocked(username)
}

// ClaimOnConnect runs connect and, if it succeeds, drains username's queue
// in the same critical section.
func (m *Mailbox) ClaimOnConnect(username string, connect func() error) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := connect(); err != nil {
		return nil, err
	}
	return m.drainLocked(username), nil
}

func (m *Mailbox) drainLocked(username string) []string {
	messages := m.queues[username]
	delete(m.queues, username)
	return messages
}

// Pending returns the number of queued messages for username
func (m *Mailbox) Pending(username string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.queues[username])
}
