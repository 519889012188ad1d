package core

import (
	"sync"
	"sync/atomic"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/protocol"
)

// Session binds a Peer and its transport endpoint together with the
// per-connection state the router needs. Rooms and the arbiter reference
// sessions, they never close them.
type Session struct {
	peer *domain.Peer
	conn SignalConnection

	alive atomic.Bool
	pipe  atomic.Bool

	mu      sync.Mutex
	room    domain.RoomName
	role    domain.Role
	pending *protocol.ScreenCaptureHeader
}

func NewSession(peer *domain.Peer, conn SignalConnection) *Session {
	s := &Session{peer: peer, conn: conn}
	s.alive.Store(true)
	return s
}

func (s *Session) ID() domain.ClientID      { return s.peer.ID }
func (s *Session) Peer() *domain.Peer       { return s.peer }
func (s *Session) Signal() SignalConnection { return s.conn }

// MarkAlive records a pong.
func (s *Session) MarkAlive() { s.alive.Store(true) }

// ResetAlive clears the liveness flag and reports whether it was set.
func (s *Session) ResetAlive() bool { return s.alive.Swap(false) }

// UsePipe switches replies to the pipe-delimited frame format.
func (s *Session) UsePipe()   { s.pipe.Store(true) }
func (s *Session) Pipe() bool { return s.pipe.Load() }

func (s *Session) Membership() (domain.RoomName, domain.Role, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.role, s.room != ""
}

func (s *Session) SetMembership(room domain.RoomName, role domain.Role) {
	s.mu.Lock()
	s.room, s.role = room, role
	s.mu.Unlock()
}

func (s *Session) ClearMembership() {
	s.SetMembership("", "")
}

// SetPending buffers a screen capture header until its binary payload arrives.
// A newer header replaces an unanswered one.
func (s *Session) SetPending(h protocol.ScreenCaptureHeader) {
	s.mu.Lock()
	s.pending = &h
	s.mu.Unlock()
}

// TakePending returns and clears the buffered header.
func (s *Session) TakePending() (protocol.ScreenCaptureHeader, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return protocol.ScreenCaptureHeader{}, false
	}
	h := *s.pending
	s.pending = nil
	return h, true
}

// Send queues an already encoded frame.
func (s *Session) Send(f Frame) error {
	return s.conn.TrySend(f)
}
