package chat

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// stubHandle records deliveries without a connection
type stubHandle struct {
	name       string
	mu         sync.Mutex
	received   []string
	blocking   map[string]bool
	active     time.Time
	terminated atomic.Int32
	writeErr   error // returned by every delivery when set
}

func (h *stubHandle) DeliverDirect(from, body string) (bool, error) {
	if h.blocking[from] {
		return false, nil
	}
	if h.writeErr != nil {
		return false, h.writeErr
	}
	h.mu.Lock()
	h.received = append(h.received, from+": "+body)
	h.mu.Unlock()
	return true, nil
}

func (h *stubHandle) DeliverBroadcast(from, body string) error {
	if h.writeErr != nil {
		return h.writeErr
	}
	h.mu.Lock()
	h.received = append(h.received, from+": "+body)
	h.mu.Unlock()
	return nil
}

func (h *stubHandle) LastActivity() time.Time { return h.active }
func (h *stubHandle) Terminate(string)        { h.terminated.Add(1) }

func (h *stubHandle) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.received...)
}

func TestRegistryConnect(t *testing.T) {
	r := NewRegistry()
	a := &stubHandle{name: "a"}
	b := &stubHandle{name: "b"}

	require.NoError(t, r.Connect("alice", a))
	assert.True(t, r.IsConnected("alice"))

	err := r.Connect("alice", b)
	assert.ErrorIs(t, err, ErrAlreadyConnected)

	h, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, a, h, "existing registration is kept")
}

func TestRegistryDisconnect(t *testing.T) {
	r := NewRegistry()
	a := &stubHandle{}
	b := &stubHandle{}

	require.NoError(t, r.Connect("alice", a))
	assert.False(t, r.DisconnectHandle("alice", b), "stale handle must not remove the entry")
	assert.True(t, r.IsConnected("alice"))
	assert.True(t, r.DisconnectHandle("alice", a))
	assert.False(t, r.IsConnected("alice"))

	r.Disconnect("alice")
	r.Disconnect("nobody")
	assert.Zero(t, r.Count())
}

func TestRegistrySnapshotSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"carol", "alice", "bob"} {
		require.NoError(t, r.Connect(name, &stubHandle{name: name}))
	}

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "alice", snap[0].Username)
	assert.Equal(t, "bob", snap[1].Username)
	assert.Equal(t, "carol", snap[2].Username)
	assert.Equal(t, []string{"alice", "bob", "carol"}, r.Usernames())

	r.Disconnect("bob")
	assert.Len(t, snap, 3, "snapshot is a copy")
	assert.Equal(t, 2, r.Count())
}

// TestRegistryConcurrentConnectUnique checks that concurrent connects for
// one username admit exactly one session.
func TestRegistryConcurrentConnectUnique(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewRegistry()
		attempts := rapid.IntRange(2, 32).Draw(t, "attempts")
		users := rapid.IntRange(1, 4).Draw(t, "users")

		var wg sync.WaitGroup
		var successes atomic.Int32
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				name := fmt.Sprintf("user%d", i%users)
				if r.Connect(name, &stubHandle{}) == nil {
					successes.Add(1)
				}
			}(i)
		}
		wg.Wait()

		want := users
		if attempts < users {
			want = attempts
		}
		if int(successes.Load()) != want || r.Count() != want {
			t.Fatalf("successes=%d count=%d, want %d", successes.Load(), r.Count(), want)
		}
	})
}
