package orch

import (
	"errors"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

const invalidFormatMsg = "invalid message format"

// OnFrame routes one inbound frame. Frames from a single session arrive in
// order; a panic while handling one is reported to the sender and swallowed.
func (o *Orchestrator) OnFrame(sess *core.Session, binary bool, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "orch.router").Stringer("client_id", sess.ID()).Interface("panic", r).Msg("handler panic")
			o.sendError(sess, invalidFormatMsg)
		}
	}()

	o.kick(o.route(sess, binary, data))
}

// route handles one frame under the lock and returns the slow consumers it
// queued for kicking.
func (o *Orchestrator) route(sess *core.Session, binary bool, data []byte) (kicks []*core.Session) {
	o.mu.Lock()
	defer func() {
		kicks = o.takeKicks()
		o.mu.Unlock()
	}()

	if binary {
		o.binary(sess, data)
		return
	}

	msg, err := o.Decoder.Decode(data)
	if err != nil {
		ev := log.Debug()
		if !errors.Is(err, protocol.ErrUnknownType) {
			ev = log.Info()
		}
		ev.Err(err).Str("module", "orch.router").Stringer("client_id", sess.ID()).Msg("frame dropped")
		return
	}
	o.Stats.CountMessage(msg.Type())

	switch m := msg.(type) {
	case protocol.Join:
		o.join(sess, m)
	case protocol.Leave:
		o.leave(sess)
	case protocol.Signal:
		o.relaySignal(sess, m)
	case protocol.Claim:
		o.claim(sess)
	case protocol.Ping:
		o.sendJSON(sess, protocol.Pong{Type: protocol.TypePong, Timestamp: o.now().UnixMilli()})
	case protocol.ScreenCaptureHeader:
		sess.SetPending(m)
	case protocol.Control:
		o.control(sess, m)
	default:
		log.Warn().Str("module", "orch.router").Str("type", msg.Type()).Msg("unhandled message")
	}
	return
}
