package chat

import (
	"sort"
	"sync"
	"time"
)

// RecentConnections tracks when each user was last seen authenticated or
// online, for the wholasthr command.
type RecentConnections struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	now    func() time.Time
}

// NewRecentConnections creates a tracker for the given window. A nil now
// uses time.Now.
func NewRecentConnections(window time.Duration, now func() time.Time) *RecentConnections {
	if now == nil {
		now = time.Now
	}
	return &RecentConnections{
		seen:   make(map[string]time.Time),
		window: window,
		now:    now,
	}
}

// Record marks username as seen now
func (rc *RecentConnections) Record(username string) {
	rc.mu.Lock()
	rc.seen[username] = rc.now()
	rc.mu.Unlock()
}

// Refresh marks every online user as seen now, drops entries at least one
// window old, and returns the remaining usernames sorted.
func (rc *RecentConnections) Refresh(online []string) []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	now := rc.now()
	for _, username := range online {
		rc.seen[username] = now
	}

	names := make([]string, 0, len(rc.seen))
	for username, at := range rc.seen {
		if now.Sub(at) >= rc.window {
			delete(rc.seen, username)
			continue
		}
		names = append(names, username)
	}
	sort.Strings(names)
	return names
}

// Window returns the configured window
func (rc *RecentConnections) Window() time.Duration {
	return rc.window
}
