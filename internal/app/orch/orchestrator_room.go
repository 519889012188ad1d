package orch

import (
	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

const replacedReason = "Replaced by new peer"

func (o *Orchestrator) join(sess *core.Session, m protocol.Join) {
	room, err := domain.ParseRoom(m.Room)
	if err != nil {
		log.Debug().Err(err).Str("module", "orch.room").Stringer("client_id", sess.ID()).Msg("join dropped")
		return
	}
	role, err := domain.ParseRole(m.Role)
	if err != nil {
		log.Debug().Err(err).Str("module", "orch.room").Stringer("client_id", sess.ID()).Msg("join dropped")
		return
	}
	if o.Joins != nil && !o.Joins.Allow(sess.ID(), o.now()) {
		log.Warn().Str("module", "orch.room").Stringer("client_id", sess.ID()).Msg("join rate limited")
		o.sendError(sess, "too many join attempts")
		return
	}
	if m.Pipe {
		sess.UsePipe()
	}

	o.leaveRoom(sess)
	// A claim taken while roomless does not follow the session into a room.
	if o.Options.Scope == app.ScopeRoom && o.Arbiter.ReleaseScope(app.GlobalScope, sess) && o.Options.NotifyControllerLeft {
		o.publishScope(app.GlobalScope, sess.ID(), protocol.ControllerLeft{Type: protocol.TypeControllerLeft})
	}

	res := o.Rooms.Join(sess, room, role)
	if res.Evicted != nil {
		log.Info().Str("module", "orch.room").Str("room", string(room)).Str("role", string(role)).
			Stringer("client_id", res.Evicted.ID()).Msg("role replaced")
		if o.Options.Scope == app.ScopeRoom {
			o.Arbiter.ReleaseScope(room, res.Evicted)
		}
		res.Evicted.Signal().CloseWith(core.CloseNormal, replacedReason)
	}

	o.sendJoined(sess, room, role, res.Peers)
	log.Info().Str("module", "orch.room").Stringer("client_id", sess.ID()).Str("room", string(room)).
		Str("role", string(role)).Int("members", len(res.Members)).Msg("joined")

	o.publish(res.Members, sess.ID(), protocol.PeerJoined{Type: protocol.TypePeerJoined, From: string(role)})

	if len(res.Members) == 2 {
		for _, member := range res.Members {
			o.sendReady(member, room)
		}
	}
}

func (o *Orchestrator) sendJoined(sess *core.Session, room domain.RoomName, role domain.Role, others []domain.Role) {
	if sess.Pipe() {
		payload, ok := encode(protocol.Join{Room: string(room), Role: string(role)})
		if !ok {
			return
		}
		o.sendPipe(sess, protocol.PipeFrame{
			Type:        protocol.PipeNewPeer,
			From:        string(role),
			To:          protocol.PipeAll,
			Payload:     string(payload),
			Count:       o.Registry.Count(),
			VideoSender: string(role) == protocol.VideoSenderRole,
		})
		return
	}
	peers := make([]string, 0, len(others))
	for _, p := range others {
		peers = append(peers, string(p))
	}
	o.sendJSON(sess, protocol.Joined{Type: protocol.TypeJoined, Room: string(room), Role: string(role), Peers: peers})
}

func (o *Orchestrator) sendReady(member *core.Session, room domain.RoomName) {
	if !member.Pipe() {
		o.sendJSON(member, protocol.NewReady(string(room)))
		return
	}
	payload, ok := encode(protocol.Left{Type: protocol.TypeReady, Room: string(room)})
	if !ok {
		return
	}
	_, role, _ := member.Membership()
	o.sendPipe(member, protocol.PipeFrame{
		Type:        protocol.PipeOther,
		From:        string(role),
		To:          protocol.PipeAll,
		Payload:     string(payload),
		Count:       o.Registry.Count(),
		VideoSender: string(role) == protocol.VideoSenderRole,
	})
}

func (o *Orchestrator) leave(sess *core.Session) {
	name, ok := o.leaveRoom(sess)
	if !ok {
		return
	}
	o.sendJSON(sess, protocol.Left{Type: protocol.TypeLeft, Room: string(name)})
}

// leaveRoom removes sess from its room and drops a room scoped claim it held.
func (o *Orchestrator) leaveRoom(sess *core.Session) (domain.RoomName, bool) {
	name, role, remaining, ok := o.Rooms.Leave(sess)
	if !ok {
		return "", false
	}
	log.Info().Str("module", "orch.room").Stringer("client_id", sess.ID()).Str("room", string(name)).
		Str("role", string(role)).Int("remaining", len(remaining)).Msg("left")

	if o.Options.Scope == app.ScopeRoom && o.Arbiter.ReleaseScope(name, sess) && o.Options.NotifyControllerLeft {
		o.publish(remaining, sess.ID(), protocol.ControllerLeft{Type: protocol.TypeControllerLeft})
	}
	if o.Options.NotifyPeerLeft {
		o.publish(remaining, sess.ID(), protocol.PeerLeft{Type: protocol.TypePeerLeft, Room: string(name), Role: string(role)})
	}
	return name, true
}

// relaySignal forwards offer, answer, candidate and ready to room peers,
// tagged with the sender's role. Each peer gets the frame format it joined with.
func (o *Orchestrator) relaySignal(sess *core.Session, m protocol.Signal) {
	room, role, ok := sess.Membership()
	if !ok {
		log.Debug().Str("module", "orch.room").Stringer("client_id", sess.ID()).Str("type", m.MsgType).Msg("signal without room dropped")
		return
	}

	var jsonPeers, pipePeers []*core.Session
	for _, p := range o.Rooms.Peers(sess) {
		if !m.Broadcast() {
			if _, r, _ := p.Membership(); string(r) != m.To {
				continue
			}
		}
		if p.Pipe() {
			pipePeers = append(pipePeers, p)
		} else {
			jsonPeers = append(jsonPeers, p)
		}
	}

	sent := 0
	if len(jsonPeers) > 0 {
		f, err := m.Forward(string(role))
		if err != nil {
			log.Error().Err(err).Str("module", "orch.room").Msg("signal encode")
			return
		}
		res := app.Publish(jsonPeers, sess.ID(), f)
		o.onDropped(res)
		sent += res.SentTo
	}
	if len(pipePeers) > 0 {
		pf, err := m.PipeFrame(string(role), o.Registry.Count())
		if err != nil {
			log.Error().Err(err).Str("module", "orch.room").Msg("signal pipe encode")
			return
		}
		res := app.Publish(pipePeers, sess.ID(), core.Frame(pf.String()))
		o.onDropped(res)
		sent += res.SentTo
	}
	log.Debug().Str("module", "orch.room").Str("room", string(room)).Str("from", string(role)).
		Str("type", m.MsgType).Int("sent_to", sent).Msg("signal relayed")
}
