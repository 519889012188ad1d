package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoomRateLimiter_SlidingWindow(t *testing.T) {
	rl := NewRoomRateLimiter(2, time.Second)
	t0 := time.Unix(100, 0)

	assert.True(t, rl.Allow(1, t0))
	assert.True(t, rl.Allow(1, t0.Add(100*time.Millisecond)))
	assert.False(t, rl.Allow(1, t0.Add(200*time.Millisecond)))
	assert.True(t, rl.Allow(2, t0.Add(200*time.Millisecond)), "limits are per client")

	assert.True(t, rl.Allow(1, t0.Add(1100*time.Millisecond)), "first attempt slid out of the window")

	rl.Forget(1)
	assert.True(t, rl.Allow(1, t0.Add(1200*time.Millisecond)))
}
