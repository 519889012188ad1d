package app

import (
	"sync"
	"sync/atomic"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog/log"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SentTo  int
	Dropped []*core.Session
}

// Publish queues f on every session except the one with id except.
// A failed send never aborts the fan-out.
func Publish(sessions []*core.Session, except domain.ClientID, f core.Frame) PublishResult {
	res := PublishResult{}
	for _, s := range sessions {
		if s.ID() == except {
			continue
		}
		if err := s.Send(f); err != nil {
			log.Debug().Err(err).Str("module", "app.publish").Stringer("client_id", s.ID()).Msg("send failed")
			res.Dropped = append(res.Dropped, s)
			continue
		}
		res.SentTo++
	}
	return res
}

// Registry is the set of live connections.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.ClientID]*core.Session
	nextID   atomic.Uint64
	stats    *Stats
}

func NewRegistry(stats *Stats) *Registry {
	return &Registry{
		sessions: make(map[domain.ClientID]*core.Session),
		stats:    stats,
	}
}

// NextID hands out connection ordinals starting at 1.
func (r *Registry) NextID() domain.ClientID {
	return domain.ClientID(r.nextID.Add(1))
}

func (r *Registry) Register(s *core.Session) {
	r.mu.Lock()
	r.sessions[s.ID()] = s
	count := len(r.sessions)
	r.mu.Unlock()
	if r.stats != nil {
		r.stats.ConnectionOpened()
	}
	log.Info().Str("module", "app.registry").Stringer("client_id", s.ID()).Int("active", count).Msg("registered")
}

// Unregister removes s and reports whether it was still registered.
func (r *Registry) Unregister(s *core.Session) bool {
	r.mu.Lock()
	cur, ok := r.sessions[s.ID()]
	if ok && cur == s {
		delete(r.sessions, s.ID())
	}
	count := len(r.sessions)
	r.mu.Unlock()
	if !ok || cur != s {
		return false
	}
	if r.stats != nil {
		r.stats.ConnectionClosed()
	}
	log.Info().Str("module", "app.registry").Stringer("client_id", s.ID()).Int("active", count).Msg("unregistered")
	return true
}

func (r *Registry) Get(id domain.ClientID) (*core.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Snapshot() []*core.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Broadcast queues f on every registered session except from.
func (r *Registry) Broadcast(from domain.ClientID, f core.Frame) PublishResult {
	res := Publish(r.Snapshot(), from, f)
	log.Debug().Str("module", "app.registry").Stringer("from", from).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// Heartbeat pings every session whose previous ping was answered and closes
// the rest. The closed sessions are returned for teardown.
func (r *Registry) Heartbeat() []*core.Session {
	var dead []*core.Session
	for _, s := range r.Snapshot() {
		if !s.ResetAlive() {
			log.Info().Str("module", "app.registry").Stringer("client_id", s.ID()).Msg("no pong, terminating")
			s.Signal().Close()
			dead = append(dead, s)
			continue
		}
		if err := s.Signal().Ping(); err != nil {
			log.Debug().Err(err).Str("module", "app.registry").Stringer("client_id", s.ID()).Msg("ping failed")
		}
	}
	return dead
}

// Stale returns registered sessions whose transport is already closed.
func (r *Registry) Stale() []*core.Session {
	var out []*core.Session
	for _, s := range r.Snapshot() {
		if s.Signal().IsClosed() {
			out = append(out, s)
		}
	}
	return out
}
