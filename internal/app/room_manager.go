package app

import (
	"sort"
	"sync"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog/log"
)

type room struct {
	name    domain.RoomName
	members map[domain.Role]*core.Session
}

// JoinResult describes the room right after a join.
type JoinResult struct {
	// Evicted previously held the joiner's role and is no longer a member.
	Evicted *core.Session
	// Peers are the roles of the other members.
	Peers   []domain.Role
	Members []*core.Session
}

// RoomManager is the room directory. Rooms exist only while they have members.
// It never closes adapter-owned resources.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[domain.RoomName]*room
}

func NewRoomManager() *RoomManager {
	return &RoomManager{rooms: make(map[domain.RoomName]*room)}
}

// Join adds s to name under role. The caller must have removed s from any
// previous room first.
func (m *RoomManager) Join(s *core.Session, name domain.RoomName, role domain.Role) JoinResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[name]
	if !ok {
		r = &room{name: name, members: make(map[domain.Role]*core.Session)}
		m.rooms[name] = r
	}

	res := JoinResult{}
	if prev, ok := r.members[role]; ok && prev != s {
		prev.ClearMembership()
		res.Evicted = prev
	}
	r.members[role] = s
	s.SetMembership(name, role)

	for other, ms := range r.members {
		res.Members = append(res.Members, ms)
		if other != role {
			res.Peers = append(res.Peers, other)
		}
	}
	sort.Slice(res.Peers, func(i, j int) bool { return res.Peers[i] < res.Peers[j] })
	log.Info().Str("module", "app.rooms").Stringer("client_id", s.ID()).Str("room", string(name)).Str("role", string(role)).Int("members", len(r.members)).Msg("member joined")
	return res
}

// Leave removes s from its room and returns the members left behind.
func (m *RoomManager) Leave(s *core.Session) (domain.RoomName, domain.Role, []*core.Session, bool) {
	name, role, ok := s.Membership()
	if !ok {
		return "", "", nil, false
	}
	s.ClearMembership()

	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[name]
	if !ok {
		return name, role, nil, true
	}
	if r.members[role] == s {
		delete(r.members, role)
	}
	remaining := make([]*core.Session, 0, len(r.members))
	for _, ms := range r.members {
		remaining = append(remaining, ms)
	}
	if len(r.members) == 0 {
		delete(m.rooms, name)
		log.Info().Str("module", "app.rooms").Str("room", string(name)).Msg("room removed")
	}
	log.Info().Str("module", "app.rooms").Stringer("client_id", s.ID()).Str("room", string(name)).Str("role", string(role)).Int("members", len(remaining)).Msg("member left")
	return name, role, remaining, true
}

// Peers returns the other members of s's room.
func (m *RoomManager) Peers(s *core.Session) []*core.Session {
	name, _, ok := s.Membership()
	if !ok {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[name]
	if !ok {
		return nil
	}
	out := make([]*core.Session, 0, len(r.members))
	for _, ms := range r.members {
		if ms != s {
			out = append(out, ms)
		}
	}
	return out
}

func (m *RoomManager) Members(name domain.RoomName) []*core.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[name]
	if !ok {
		return nil
	}
	out := make([]*core.Session, 0, len(r.members))
	for _, ms := range r.members {
		out = append(out, ms)
	}
	return out
}

func (m *RoomManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

func (m *RoomManager) List() []domain.RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.RoomInfo, 0, len(m.rooms))
	for name, r := range m.rooms {
		info := domain.RoomInfo{Name: name, MemberCount: len(r.members)}
		for role := range r.members {
			info.Roles = append(info.Roles, role)
		}
		sort.Slice(info.Roles, func(i, j int) bool { return info.Roles[i] < info.Roles[j] })
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
