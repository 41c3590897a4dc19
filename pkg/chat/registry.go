package chat

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Handle is what the registry hands out for an online user: a way to push
// lines to that user's connection, nothing more. A handle stays valid only
// while its session is registered.
type Handle interface {
	// DeliverDirect shows a direct message unless from is on the
	// recipient's block list. It reports whether the message was shown; an
	// error means the connection is broken and the handle is finished.
	DeliverDirect(from, body string) (bool, error)
	// DeliverBroadcast shows a broadcast message. Block lists do not apply.
	DeliverBroadcast(from, body string) error
	// LastActivity returns the time of the last processed command.
	LastActivity() time.Time
	// Terminate sends notice and closes the connection.
	Terminate(notice string)
}

// Entry is one online user in a registry snapshot
type Entry struct {
	Username string
	Handle   Handle
}

// Registry maps online usernames to their handles. A username is
// registered at most once.
type Registry struct {
	mu     sync.RWMutex
	online map[string]Handle
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		online: make(map[string]Handle),
	}
}

// Connect registers username. It fails with ErrAlreadyConnected if the
// username is already online; the check and insert are one atomic step.
func (r *Registry) Connect(username string, h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.online[username]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, username)
	}
	r.online[username] = h
	return nil
}

// Disconnect removes username. No-op if absent.
func (r *Registry) Disconnect(username string) {
	r.mu.Lock()
	delete(r.online, username)
	r.mu.Unlock()
}

// DisconnectHandle removes username only if it is still registered to h
func (r *Registry) DisconnectHandle(username string, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.online[username]; ok && current == h {
		delete(r.online, username)
		return true
	}
	return false
}

// IsConnected reports whether username is online
func (r *Registry) IsConnected(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.online[username]
	return ok
}

// Lookup returns the handle of an online user
func (r *Registry) Lookup(username string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.online[username]
	return h, ok
}

// Snapshot returns a point-in-time copy of the registry sorted by username
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.online))
	for username, h := range r.online {
		entries = append(entries, Entry{Username: username, Handle: h})
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Username < entries[j].Username
	})
	return entries
}

// Usernames returns the sorted online usernames
func (r *Registry) Usernames() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.online))
	for username := range r.online {
		names = append(names, username)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Count returns the number of online users
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.online)
}
