package app

import (
	"sync"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog/log"
)

// GlobalScope is the arbiter scope shared by the whole server.
const GlobalScope domain.RoomName = ""

type claim struct {
	holder *core.Session
	since  time.Time
}

// Arbiter tracks at most one controller per scope. With the global scope
// only, there is exactly one controller for the whole server.
type Arbiter struct {
	mu     sync.Mutex
	claims map[domain.RoomName]claim
}

func NewArbiter() *Arbiter {
	return &Arbiter{claims: make(map[domain.RoomName]claim)}
}

// Claim makes s the controller of scope. It returns the superseded holder,
// if any, and the time the current claim was acquired. Re-claiming keeps the
// original timestamp.
func (a *Arbiter) Claim(scope domain.RoomName, s *core.Session, now time.Time) (*core.Session, time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur, ok := a.claims[scope]
	if ok && cur.holder == s {
		return nil, cur.since
	}
	a.claims[scope] = claim{holder: s, since: now}
	ev := log.Info().Str("module", "app.arbiter").Str("scope", string(scope)).Stringer("client_id", s.ID())
	if ok {
		ev = ev.Stringer("previous", cur.holder.ID())
	}
	ev.Msg("controller claimed")
	if ok {
		return cur.holder, now
	}
	return nil, now
}

func (a *Arbiter) IsController(scope domain.RoomName, s *core.Session) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur, ok := a.claims[scope]
	return ok && cur.holder == s
}

func (a *Arbiter) Holder(scope domain.RoomName) (*core.Session, time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur, ok := a.claims[scope]
	if !ok {
		return nil, time.Time{}, false
	}
	return cur.holder, cur.since, true
}

// ReleaseScope clears scope if s holds it.
func (a *Arbiter) ReleaseScope(scope domain.RoomName, s *core.Session) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur, ok := a.claims[scope]
	if !ok || cur.holder != s {
		return false
	}
	delete(a.claims, scope)
	log.Info().Str("module", "app.arbiter").Str("scope", string(scope)).Stringer("client_id", s.ID()).Msg("controller released")
	return true
}

// Release clears every scope held by s and returns them.
func (a *Arbiter) Release(s *core.Session) []domain.RoomName {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.RoomName
	for scope, cur := range a.claims {
		if cur.holder == s {
			delete(a.claims, scope)
			out = append(out, scope)
		}
	}
	if len(out) > 0 {
		log.Info().Str("module", "app.arbiter").Stringer("client_id", s.ID()).Int("scopes", len(out)).Msg("controller released")
	}
	return out
}
