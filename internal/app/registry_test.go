package app

import (
	"testing"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/core/coretest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterUnregister(t *testing.T) {
	stats := NewStats()
	r := NewRegistry(stats)

	a, _ := coretest.NewSession(r.NextID())
	b, _ := coretest.NewSession(r.NextID())
	r.Register(a)
	r.Register(b)

	assert.Equal(t, 2, r.Count())
	snap := stats.Snapshot()
	assert.Equal(t, uint64(2), snap.TotalConnections)
	assert.Equal(t, int64(2), snap.ActiveConnections)

	assert.True(t, r.Unregister(a))
	assert.False(t, r.Unregister(a), "second unregister is a no-op")
	assert.Equal(t, 1, r.Count())

	snap = stats.Snapshot()
	assert.Equal(t, uint64(2), snap.TotalConnections)
	assert.Equal(t, int64(1), snap.ActiveConnections)

	_, ok := r.Get(a.ID())
	assert.False(t, ok)
}

func TestRegistry_NextIDIsOrdinal(t *testing.T) {
	r := NewRegistry(nil)
	assert.EqualValues(t, 1, r.NextID())
	assert.EqualValues(t, 2, r.NextID())
}

func TestRegistry_BroadcastSkipsSenderAndSurvivesFailures(t *testing.T) {
	r := NewRegistry(nil)
	sender, senderConn := coretest.NewSession(1)
	ok1, okConn1 := coretest.NewSession(2)
	slow, slowConn := coretest.NewSession(3)
	ok2, okConn2 := coretest.NewSession(4)
	slowConn.SendErr = core.ErrBackpressure
	for _, s := range []*core.Session{sender, ok1, slow, ok2} {
		r.Register(s)
	}

	res := r.Broadcast(sender.ID(), core.Frame(`{"type":"x"}`))

	assert.Equal(t, 2, res.SentTo)
	require.Len(t, res.Dropped, 1)
	assert.Same(t, slow, res.Dropped[0])
	assert.Empty(t, senderConn.Frames())
	assert.Len(t, okConn1.Frames(), 1)
	assert.Len(t, okConn2.Frames(), 1)
}

func TestRegistry_HeartbeatTerminatesUnanswered(t *testing.T) {
	r := NewRegistry(nil)
	a, connA := coretest.NewSession(1)
	b, connB := coretest.NewSession(2)
	r.Register(a)
	r.Register(b)

	dead := r.Heartbeat()
	assert.Empty(t, dead)
	assert.Equal(t, 1, connA.Pings())
	assert.Equal(t, 1, connB.Pings())

	a.MarkAlive()

	dead = r.Heartbeat()
	require.Len(t, dead, 1)
	assert.Same(t, b, dead[0])
	assert.True(t, connB.IsClosed())
	assert.False(t, connA.IsClosed())
	assert.Equal(t, 2, connA.Pings())
}

func TestRegistry_Stale(t *testing.T) {
	r := NewRegistry(nil)
	a, connA := coretest.NewSession(1)
	b, _ := coretest.NewSession(2)
	r.Register(a)
	r.Register(b)

	connA.Close()

	stale := r.Stale()
	require.Len(t, stale, 1)
	assert.Same(t, a, stale[0])
}
