package orch

import (
	"encoding/json"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

const (
	ejectedReason    = "new-controller"
	notControllerMsg = "you are not the controller"
	ackMessage       = "data broadcast"

	slowConsumerReason = "slow consumer"
)

// scopeOf is the claim scope of sess: its room under room scoping, otherwise
// the global scope.
func (o *Orchestrator) scopeOf(sess *core.Session) domain.RoomName {
	if o.Options.Scope != app.ScopeRoom {
		return app.GlobalScope
	}
	if room, _, ok := sess.Membership(); ok {
		return room
	}
	return app.GlobalScope
}

func (o *Orchestrator) claim(sess *core.Session) {
	scope := o.scopeOf(sess)
	prev, since := o.Arbiter.Claim(scope, sess, o.now())
	if prev != nil {
		log.Info().Str("module", "orch.control").Stringer("from", prev.ID()).Stringer("to", sess.ID()).
			Str("scope", string(scope)).Msg("controller superseded")
		o.sendJSON(prev, protocol.Ejected{Type: protocol.TypeEjected, Reason: ejectedReason})
	}
	o.sendJSON(sess, protocol.YouAreController{Type: protocol.TypeYouAreController, Since: since.UnixMilli()})
}

// gate reports whether sess may broadcast control data, claiming implicitly
// when the policy allows it.
func (o *Orchestrator) gate(sess *core.Session) bool {
	if o.Arbiter.IsController(o.scopeOf(sess), sess) {
		return true
	}
	if o.Options.ClaimMode == app.ClaimStrict {
		o.sendError(sess, notControllerMsg)
		return false
	}
	o.claim(sess)
	return true
}

func (o *Orchestrator) control(sess *core.Session, m protocol.Control) {
	if !o.gate(sess) {
		return
	}
	o.broadcast(sess, protocol.ControlBroadcast{
		Type:      m.MsgType,
		Data:      m.Data,
		Timestamp: o.now().UnixMilli(),
		ClientID:  uint64(sess.ID()),
	})
}

// binary pairs a payload with the buffered screen capture header.
func (o *Orchestrator) binary(sess *core.Session, data []byte) {
	h, ok := sess.TakePending()
	if !ok {
		log.Debug().Str("module", "orch.control").Stringer("client_id", sess.ID()).Int("bytes", len(data)).Msg("binary without header dropped")
		return
	}
	if !o.gate(sess) {
		return
	}
	o.Stats.CountType(protocol.TypeScreenCapture)
	o.broadcast(sess, protocol.NewScreenCapture(h, data))
}

// broadcast fans v out to every other connection in the sender's scope and
// acknowledges the sender.
func (o *Orchestrator) broadcast(sess *core.Session, v any) {
	o.publishScope(o.scopeOf(sess), sess.ID(), v)
	o.sendJSON(sess, protocol.Ack{
		Type:         protocol.TypeAck,
		Message:      ackMessage,
		Timestamp:    o.now().UnixMilli(),
		ClientsCount: o.Registry.Count(),
	})
}

func (o *Orchestrator) publishScope(scope domain.RoomName, except domain.ClientID, v any) {
	if scope == app.GlobalScope {
		f, ok := encode(v)
		if !ok {
			return
		}
		o.onDropped(o.Registry.Broadcast(except, f))
		return
	}
	o.publish(o.Rooms.Members(scope), except, v)
}

func (o *Orchestrator) publish(sessions []*core.Session, except domain.ClientID, v any) {
	f, ok := encode(v)
	if !ok {
		return
	}
	o.onDropped(app.Publish(sessions, except, f))
}

// onDropped applies the backpressure policy to recipients that missed a frame.
// Kicks are queued and carried out once the lock is released.
func (o *Orchestrator) onDropped(res app.PublishResult) {
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(slow) {
		case app.KickMember:
			if !slow.Signal().IsClosed() {
				o.kicks = append(o.kicks, slow)
			}
		case app.DropFrame, app.NoAction:
		}
	}
}

func encode(v any) (core.Frame, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode")
		return nil, false
	}
	return b, true
}
