package app

import (
	"sync"
	"time"

	"github.com/dkeye/Relay/internal/domain"
)

// RoomRateLimiter is a sliding-window limit on join attempts per client.
type RoomRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.ClientID][]time.Time
	limit    int
	interval time.Duration
}

func NewRoomRateLimiter(limit int, interval time.Duration) *RoomRateLimiter {
	return &RoomRateLimiter{
		history:  make(map[domain.ClientID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *RoomRateLimiter) Allow(id domain.ClientID, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	windowStart := now.Add(-rl.interval)
	attempts := rl.history[id]

	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[id] = fresh
		return false
	}

	rl.history[id] = append(fresh, now)
	return true
}

// Forget drops the history of a disconnected client.
func (rl *RoomRateLimiter) Forget(id domain.ClientID) {
	rl.mu.Lock()
	delete(rl.history, id)
	rl.mu.Unlock()
}
