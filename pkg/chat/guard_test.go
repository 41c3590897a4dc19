package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAbuseGuard(t *testing.T) {
	clock := newFakeClock()
	g := NewAbuseGuard(time.Minute, clock.Now)

	assert.False(t, g.IsLocked("10.0.0.1", "alice"))

	g.RecordFailure("10.0.0.1", "alice")
	assert.True(t, g.IsLocked("10.0.0.1", "alice"))
	assert.False(t, g.IsLocked("10.0.0.2", "alice"), "other address")
	assert.False(t, g.IsLocked("10.0.0.1", "bob"), "other username")
	assert.Equal(t, time.Minute, g.Remaining("10.0.0.1", "alice"))

	clock.Advance(59 * time.Second)
	assert.True(t, g.IsLocked("10.0.0.1", "alice"))
	assert.Equal(t, time.Second, g.Remaining("10.0.0.1", "alice"))

	clock.Advance(time.Second)
	assert.False(t, g.IsLocked("10.0.0.1", "alice"), "unlocked once the duration has elapsed")
	assert.Zero(t, g.Remaining("10.0.0.1", "alice"))
}

func TestAbuseGuardRelock(t *testing.T) {
	clock := newFakeClock()
	g := NewAbuseGuard(time.Minute, clock.Now)

	g.RecordFailure("10.0.0.1", "alice")
	clock.Advance(2 * time.Minute)
	assert.False(t, g.IsLocked("10.0.0.1", "alice"))

	g.RecordFailure("10.0.0.1", "alice")
	assert.True(t, g.IsLocked("10.0.0.1", "alice"), "a new failure run locks again")
}
