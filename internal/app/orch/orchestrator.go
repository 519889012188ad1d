package orch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ClaimMode            app.ClaimMode
	Scope                app.Scope
	NotifyPeerLeft       bool
	NotifyControllerLeft bool
	Instance             string

	PingPeriod   time.Duration
	SweepPeriod  time.Duration
	StatusPeriod time.Duration
}

// Orchestrator wires connections into the registry, the room directory and
// the controller arbiter. Routing and teardown run under one coarse lock.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.RoomManager
	Arbiter  *app.Arbiter
	Stats    *app.Stats
	Policy   app.Policy
	Joins    *app.RoomRateLimiter
	Decoder  *protocol.Decoder
	Options  Options
	Now      func() time.Time

	mu    sync.Mutex
	kicks []*core.Session
}

func New(cfg *config.Config, stats *app.Stats) (*Orchestrator, error) {
	mode, err := app.ParseClaimMode(cfg.ClaimPolicy)
	if err != nil {
		return nil, fmt.Errorf("orch: %w", err)
	}
	scope, err := app.ParseScope(cfg.ControllerScope)
	if err != nil {
		return nil, fmt.Errorf("orch: %w", err)
	}
	policy, err := app.PolicyFor(cfg.SlowConsumer)
	if err != nil {
		return nil, fmt.Errorf("orch: %w", err)
	}
	if stats == nil {
		stats = app.NewStats()
	}
	var joins *app.RoomRateLimiter
	if cfg.JoinLimit > 0 {
		joins = app.NewRoomRateLimiter(cfg.JoinLimit, cfg.JoinInterval)
	}
	return &Orchestrator{
		Registry: app.NewRegistry(stats),
		Rooms:    app.NewRoomManager(),
		Arbiter:  app.NewArbiter(),
		Stats:    stats,
		Policy:   policy,
		Joins:    joins,
		Decoder:  protocol.NewDecoder(cfg.ControlTypes),
		Options: Options{
			ClaimMode:            mode,
			Scope:                scope,
			NotifyPeerLeft:       cfg.NotifyPeerLeft,
			NotifyControllerLeft: cfg.NotifyControllerLeft,
			Instance:             cfg.Instance,
			PingPeriod:           cfg.PingPeriod,
			SweepPeriod:          cfg.SweepPeriod,
			StatusPeriod:         cfg.StatusPeriod,
		},
		Now: time.Now,
	}, nil
}

func (o *Orchestrator) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// OnConnect registers a freshly opened transport and greets it.
func (o *Orchestrator) OnConnect(token, remoteAddr string, conn core.SignalConnection) *core.Session {
	peer := domain.NewPeer(o.Registry.NextID(), token, remoteAddr)
	sess := core.NewSession(peer, conn)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.Registry.Register(sess)
	o.sendJSON(sess, protocol.NewWelcome(uint64(sess.ID()), o.Options.Instance, o.now().UnixMilli()))
	return sess
}

// OnDisconnect is the single teardown path. It is safe to call more than once.
func (o *Orchestrator) OnDisconnect(sess *core.Session) {
	o.mu.Lock()
	o.teardown(sess)
	kicks := o.takeKicks()
	o.mu.Unlock()
	o.kick(kicks)
}

// takeKicks drains the slow consumers collected under the lock.
func (o *Orchestrator) takeKicks() []*core.Session {
	k := o.kicks
	o.kicks = nil
	return k
}

// kick closes slow consumers without holding the lock. Writing the close
// frame waits on the recipient's stuck writer, so each runs on its own.
func (o *Orchestrator) kick(sessions []*core.Session) {
	for _, s := range sessions {
		log.Warn().Str("module", "orch").Stringer("client_id", s.ID()).Msg("kicking slow consumer")
		go s.Signal().CloseWith(core.CloseGoingAway, slowConsumerReason)
	}
}

func (o *Orchestrator) teardown(sess *core.Session) {
	sess.Signal().Close()
	if !o.Registry.Unregister(sess) {
		return
	}
	o.leaveRoom(sess)

	for _, scope := range o.Arbiter.Release(sess) {
		log.Info().Str("module", "orch").Stringer("client_id", sess.ID()).Str("scope", string(scope)).Msg("controller released")
		if o.Options.NotifyControllerLeft {
			o.publishScope(scope, sess.ID(), protocol.ControllerLeft{Type: protocol.TypeControllerLeft})
		}
	}
	if o.Joins != nil {
		o.Joins.Forget(sess.ID())
	}
	log.Info().Str("module", "orch").Stringer("client_id", sess.ID()).Msg("session closed")
}

// Shutdown closes every live transport with a going-away code.
func (o *Orchestrator) Shutdown() {
	for _, s := range o.Registry.Snapshot() {
		s.Signal().CloseWith(core.CloseGoingAway, "server shutting down")
	}
}

// Run drives the liveness ping, the closed-socket sweep and the status report
// until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) {
	ping, stopPing := ticker(o.Options.PingPeriod)
	defer stopPing()
	sweep, stopSweep := ticker(o.Options.SweepPeriod)
	defer stopSweep()
	status, stopStatus := ticker(o.Options.StatusPeriod)
	defer stopStatus()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "orch").Msg("supervisor stopped")
			return
		case <-ping:
			o.Heartbeat()
		case <-sweep:
			o.Sweep()
		case <-status:
			o.logStatus()
		}
	}
}

// ticker returns a nil channel for a non-positive period, which never fires.
func ticker(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Heartbeat pings live sessions and tears down those that missed a pong.
func (o *Orchestrator) Heartbeat() {
	for _, s := range o.Registry.Heartbeat() {
		o.OnDisconnect(s)
	}
}

// Sweep tears down sessions whose transport closed without a teardown.
func (o *Orchestrator) Sweep() {
	for _, s := range o.Registry.Stale() {
		log.Debug().Str("module", "orch").Stringer("client_id", s.ID()).Msg("sweeping closed connection")
		o.OnDisconnect(s)
	}
}

func (o *Orchestrator) logStatus() {
	snap := o.Stats.Snapshot()
	log.Info().
		Str("module", "orch").
		Dur("uptime", snap.Uptime).
		Int64("active", snap.ActiveConnections).
		Uint64("connections_total", snap.TotalConnections).
		Uint64("messages_total", snap.TotalMessages).
		Interface("by_type", snap.ByType).
		Int("rooms", o.Rooms.Count()).
		Msg("status")
}

func (o *Orchestrator) sendJSON(sess *core.Session, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("sendJSON marshal")
		return
	}
	if err := sess.Send(b); err != nil {
		log.Debug().Err(err).Str("module", "orch").Stringer("client_id", sess.ID()).Msg("sendJSON")
	}
}

func (o *Orchestrator) sendPipe(sess *core.Session, f protocol.PipeFrame) {
	if err := sess.Send(core.Frame(f.String())); err != nil {
		log.Debug().Err(err).Str("module", "orch").Stringer("client_id", sess.ID()).Msg("sendPipe")
	}
}

func (o *Orchestrator) sendError(sess *core.Session, msg string) {
	o.sendJSON(sess, protocol.Error{Type: protocol.TypeError, Message: msg, Timestamp: o.now().UnixMilli()})
}
