package chat

import (
	"sync"
	"time"
)

type lockoutKey struct {
	address  string
	username string
}

// AbuseGuard remembers when each (address, username) pair was last locked
// out. Expired records are dropped the next time they are checked.
type AbuseGuard struct {
	mu       sync.Mutex
	lockouts map[lockoutKey]time.Time
	duration time.Duration
	now      func() time.Time
}

// NewAbuseGuard creates a guard with the given block duration. A nil now
// uses time.Now.
func NewAbuseGuard(duration time.Duration, now func() time.Time) *AbuseGuard {
	if now == nil {
		now = time.Now
	}
	return &AbuseGuard{
		lockouts: make(map[lockoutKey]time.Time),
		duration: duration,
		now:      now,
	}
}

// RecordFailure locks the pair starting now
func (g *AbuseGuard) RecordFailure(address, username string) {
	g.mu.Lock()
	g.lockouts[lockoutKey{address, username}] = g.now()
	g.mu.Unlock()
}

// IsLocked reports whether the pair was locked less than the block
// duration ago.
func (g *AbuseGuard) IsLocked(address, username string) bool {
	return g.Remaining(address, username) > 0
}

// Remaining returns how much longer the pair stays locked (0 if unlocked)
func (g *AbuseGuard) Remaining(address, username string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	lockedAt, ok := g.lockouts[lockoutKey{address, username}]
	if !ok {
		return 0
	}
	elapsed := g.now().Sub(lockedAt)
	if elapsed >= g.duration {
		delete(g.lockouts, lockoutKey{address, username})
		return 0
	}
	return g.duration - elapsed
}

// Duration returns the configured block duration
func (g *AbuseGuard) Duration() time.Duration {
	return g.duration
}
