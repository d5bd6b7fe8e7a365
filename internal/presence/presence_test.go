package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/agorachat/agora/internal/testutil"
	"github.com/stretchr/testify/assert"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	events []string
	full   bool
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) QueueEvent(event string, payload any) bool {
	if c.full {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return true
}

func Test_AddRemoveConnection(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t))

	c1 := &fakeConn{id: "conn-1"}
	c2 := &fakeConn{id: "conn-2"}

	r.AddConnection(1, c1)
	r.AddConnection(1, c1) // idempotent per handle
	r.AddConnection(1, c2)
	assert.Len(t, r.Connections(1), 2, "expected two distinct connections")

	r.RemoveConnection(1, c1)
	assert.Len(t, r.Connections(1), 1)

	r.RemoveConnection(1, c2)
	assert.Empty(t, r.Connections(1), "expected user entry removed with last connection")

	// internal map entry should be gone, not just empty
	r.mu.Lock()
	_, ok := r.conns[1]
	r.mu.Unlock()
	assert.False(t, ok, "expected user entry deleted from registry")
}

func Test_EmitToUser(t *testing.T) {
	t.Run("delivers to all connections", func(t *testing.T) {
		r := NewRegistry(testutil.TestLogger(t))
		c1 := &fakeConn{id: "conn-1"}
		c2 := &fakeConn{id: "conn-2"}
		r.AddConnection(7, c1)
		r.AddConnection(7, c2)

		n := r.EmitToUser(7, "role_update", map[string]any{"role": "leader"})
		assert.Equal(t, 2, n)
		assert.Equal(t, []string{"role_update"}, c1.events)
		assert.Equal(t, []string{"role_update"}, c2.events)
	})

	t.Run("offline user is a no-op", func(t *testing.T) {
		r := NewRegistry(testutil.TestLogger(t))
		c := &fakeConn{id: "conn-1"}
		r.AddConnection(7, c)
		r.RemoveConnection(7, c)

		n := r.EmitToUser(7, "join_approved", nil)
		assert.Zero(t, n, "expected zero delivery attempts for offline user")
		assert.Empty(t, c.events)
	})

	t.Run("full buffer does not panic", func(t *testing.T) {
		r := NewRegistry(testutil.TestLogger(t))
		r.AddConnection(7, &fakeConn{id: "conn-1", full: true})

		n := r.EmitToUser(7, "system", nil)
		assert.Equal(t, 1, n)
	})
}

func Test_ConcurrentConnectDisconnect(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := &fakeConn{id: fmt.Sprintf("conn-%d", i)}
			userId := i % 5
			r.AddConnection(userId, c)
			r.EmitToUser(userId, "ping", nil)
			r.RemoveConnection(userId, c)
		}(i)
	}
	wg.Wait()

	for userId := 0; userId < 5; userId++ {
		assert.Empty(t, r.Connections(userId))
	}
}
