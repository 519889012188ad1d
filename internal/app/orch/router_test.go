package orch

import (
	"testing"
	"time"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/core/coretest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_PairAndRelayOffer(t *testing.T) {
	o := newOrch(t, nil)
	a, connA := connect(o)
	b, connB := connect(o)

	send(o, a, `{"type":"join","room":"r1","role":"sender"}`)
	send(o, b, `{"type":"join","room":"r1","role":"receiver"}`)

	assert.Equal(t, []string{"joined", "peer-joined", "ready"}, connA.Types())
	assert.Equal(t, []string{"joined", "ready"}, connB.Types())
	assert.Equal(t, "receiver", connA.OfType("peer-joined")[0]["from"])
	joined := connB.OfType("joined")[0]
	assert.Equal(t, []any{"sender"}, joined["peers"])
	assert.Equal(t, "r1", connA.OfType("ready")[0]["room"])

	connA.Reset()
	connB.Reset()
	send(o, a, `{"type":"offer","sdp":"v=0..."}`)

	assert.Empty(t, connA.Frames())
	offers := connB.OfType("offer")
	require.Len(t, offers, 1)
	assert.Equal(t, "v=0...", offers[0]["sdp"])
	assert.Equal(t, "sender", offers[0]["from"])
}

func TestRouter_ReadyOnlyOnSecondMember(t *testing.T) {
	o := newOrch(t, nil)
	a, connA := connect(o)
	b, connB := connect(o)
	c, connC := connect(o)

	send(o, a, `{"type":"join","room":"r1","role":"sender"}`)
	send(o, b, `{"type":"join","room":"r1","role":"receiver"}`)
	connA.Reset()
	connB.Reset()

	send(o, c, `{"type":"join","room":"r1","role":"viewer"}`)

	assert.Equal(t, []string{"joined"}, connC.Types())
	assert.Equal(t, []any{"receiver", "sender"}, connC.Messages()[0]["peers"])
	assert.Equal(t, []string{"peer-joined"}, connA.Types(), "no second ready")
	assert.Equal(t, []string{"peer-joined"}, connB.Types())
	assert.Equal(t, "viewer", connB.Messages()[0]["from"])
}

func TestRouter_SameRoleEvictsIncumbent(t *testing.T) {
	o := newOrch(t, nil)
	a, connA := connect(o)
	b, connB := connect(o)
	c, connC := connect(o)

	send(o, a, `{"type":"join","room":"r1","role":"sender"}`)
	send(o, b, `{"type":"join","room":"r1","role":"receiver"}`)
	connB.Reset()

	send(o, c, `{"type":"join","room":"r1","role":"sender"}`)

	code, reason := connA.CloseInfo()
	assert.Equal(t, core.CloseNormal, code)
	assert.Equal(t, "Replaced by new peer", reason)
	assert.Equal(t, []string{"joined", "ready"}, connC.Types())
	assert.Equal(t, []string{"peer-joined", "ready"}, connB.Types())

	o.OnDisconnect(a)
	assert.Len(t, o.Rooms.Members("r1"), 2)
}

func TestRouter_SignalTargetsRole(t *testing.T) {
	o := newOrch(t, nil)
	a, _ := connect(o)
	b, connB := connect(o)
	c, connC := connect(o)
	send(o, a, `{"type":"join","room":"r1","role":"sender"}`)
	send(o, b, `{"type":"join","room":"r1","role":"receiver"}`)
	send(o, c, `{"type":"join","room":"r1","role":"viewer"}`)
	connB.Reset()
	connC.Reset()

	send(o, a, `{"type":"candidate","to":"viewer","candidate":{"candidate":"candidate:1","sdpMid":"0","sdpMLineIndex":0}}`)

	assert.Empty(t, connB.Frames())
	cands := connC.OfType("candidate")
	require.Len(t, cands, 1)
	assert.Equal(t, "sender", cands[0]["from"])
}

func TestRouter_SignalWithoutRoomIsDropped(t *testing.T) {
	o := newOrch(t, nil)
	a, connA := connect(o)
	_, connB := connect(o)

	send(o, a, `{"type":"offer","sdp":"v=0"}`)

	assert.Empty(t, connA.Frames())
	assert.Empty(t, connB.Frames())
}

func TestRouter_LeaveAndPeerLeft(t *testing.T) {
	o := newOrch(t, func(c *config.Config) { c.NotifyPeerLeft = true })
	a, connA := connect(o)
	b, connB := connect(o)
	send(o, a, `{"type":"join","room":"r1","role":"sender"}`)
	send(o, b, `{"type":"join","room":"r1","role":"receiver"}`)
	connA.Reset()
	connB.Reset()

	send(o, a, `{"type":"leave"}`)

	left := connA.OfType("left")
	require.Len(t, left, 1)
	assert.Equal(t, "r1", left[0]["room"])
	pl := connB.OfType("peer-left")
	require.Len(t, pl, 1)
	assert.Equal(t, "sender", pl[0]["role"])
	_, _, ok := a.Membership()
	assert.False(t, ok)
}

func TestRouter_ControlBroadcastAndHandOff(t *testing.T) {
	o := newOrch(t, nil)
	a, connA := connect(o)
	b, connB := connect(o)
	_, connC := connect(o)
	send(o, b, `{"type":"join","room":"r9","role":"receiver"}`)
	connB.Reset()

	send(o, a, `{"type":"gyroscope","data":{"alpha":1,"beta":2,"gamma":3}}`)

	assert.Equal(t, []string{"you-are-controller", "ack"}, connA.Types())
	assert.EqualValues(t, fixedNow.UnixMilli(), connA.Messages()[0]["since"])
	ack := connA.OfType("ack")[0]
	assert.EqualValues(t, 3, ack["clientsCount"])
	for _, conn := range []interface{ Types() []string }{connB, connC} {
		assert.Equal(t, []string{"gyroscope"}, conn.Types(), "control broadcast ignores rooms")
	}
	gyro := connB.Messages()[0]
	assert.Equal(t, map[string]any{"alpha": 1.0, "beta": 2.0, "gamma": 3.0}, gyro["data"])
	assert.EqualValues(t, a.ID(), gyro["clientId"])
	assert.EqualValues(t, fixedNow.UnixMilli(), gyro["timestamp"])

	connA.Reset()
	connB.Reset()
	send(o, b, `{"type":"shake","data":{"count":2}}`)

	assert.Equal(t, []string{"ejected", "shake"}, connA.Types())
	assert.Equal(t, "new-controller", connA.Messages()[0]["reason"])
	assert.Equal(t, []string{"you-are-controller", "ack"}, connB.Types())
	assert.True(t, o.Arbiter.IsController(app.GlobalScope, b))
	assert.False(t, o.Arbiter.IsController(app.GlobalScope, a))
}

func TestRouter_LegacyGyroscopeIsWrapped(t *testing.T) {
	o := newOrch(t, nil)
	a, _ := connect(o)
	_, connB := connect(o)

	send(o, a, `{"alpha":10,"beta":20,"gamma":30,"timestamp":5}`)

	msgs := connB.OfType("gyroscope")
	require.Len(t, msgs, 1)
	data, ok := msgs[0]["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 10.0, data["alpha"])
	assert.EqualValues(t, 5, data["timestamp"])
	assert.EqualValues(t, fixedNow.UnixMilli(), msgs[0]["timestamp"])
}

func TestRouter_StrictClaimRejectsNonController(t *testing.T) {
	o := newOrch(t, func(c *config.Config) { c.ClaimPolicy = config.ClaimStrict })
	a, connA := connect(o)
	_, connB := connect(o)

	send(o, a, `{"type":"spin","data":{"triggered":true,"angle":90}}`)

	errs := connA.OfType("error")
	require.Len(t, errs, 1)
	assert.Equal(t, "you are not the controller", errs[0]["message"])
	assert.Empty(t, connB.Frames())

	connA.Reset()
	send(o, a, `{"type":"claim"}`)
	send(o, a, `{"type":"spin","data":{"triggered":true,"angle":90}}`)

	assert.Equal(t, []string{"you-are-controller", "ack"}, connA.Types())
	assert.Equal(t, []string{"spin"}, connB.Types())
}

func TestRouter_RoomScopedController(t *testing.T) {
	o := newOrch(t, func(c *config.Config) { c.ControllerScope = config.ScopeRoom })
	a, connA := connect(o)
	b, connB := connect(o)
	c, connC := connect(o)
	d, connD := connect(o)
	send(o, a, `{"type":"join","room":"r1","role":"sender"}`)
	send(o, b, `{"type":"join","room":"r1","role":"receiver"}`)
	send(o, c, `{"type":"join","room":"r2","role":"sender"}`)
	send(o, d, `{"type":"join","room":"r2","role":"receiver"}`)
	for _, conn := range []interface{ Reset() }{connA, connB, connC, connD} {
		conn.Reset()
	}

	send(o, a, `{"type":"gyroscope","data":{"alpha":1}}`)
	send(o, c, `{"type":"gyroscope","data":{"alpha":2}}`)

	assert.Equal(t, []string{"you-are-controller", "ack"}, connA.Types(), "claims in other rooms do not eject")
	assert.Equal(t, []string{"gyroscope"}, connB.Types())
	assert.Equal(t, []string{"gyroscope"}, connD.Types())
	assert.True(t, o.Arbiter.IsController("r1", a))
	assert.True(t, o.Arbiter.IsController("r2", c))

	connB.Reset()
	send(o, a, `{"type":"leave"}`)
	assert.Equal(t, []string{"controller-left"}, connB.Types())
	assert.False(t, o.Arbiter.IsController("r1", a))
}

func TestRouter_ScreenCapturePairing(t *testing.T) {
	o := newOrch(t, nil)
	a, connA := connect(o)
	_, connB := connect(o)

	send(o, a, `{"type":"screen_capture_header","clientId":7,"size":3,"timestamp":42}`)
	assert.Empty(t, connB.Frames(), "header alone is buffered")

	o.OnFrame(a, true, []byte{1, 2, 255})

	caps := connB.OfType("screen_capture")
	require.Len(t, caps, 1)
	assert.EqualValues(t, 7, caps[0]["clientId"])
	assert.EqualValues(t, 3, caps[0]["size"])
	assert.EqualValues(t, 42, caps[0]["timestamp"])
	assert.Equal(t, []any{1.0, 2.0, 255.0}, caps[0]["image"])
	assert.Contains(t, connA.Types(), "ack")

	snap := o.Stats.Snapshot()
	assert.EqualValues(t, 1, snap.TotalMessages, "header and payload are one message")
	assert.EqualValues(t, 1, snap.ByType["screen_capture"])
	assert.EqualValues(t, 1, snap.ByType["screen_capture_header"])

	connA.Reset()
	connB.Reset()
	o.OnFrame(a, true, []byte{9})
	assert.Empty(t, connA.Frames())
	assert.Empty(t, connB.Frames(), "binary without header is dropped")
}

func TestRouter_MalformedInputIsDroppedSilently(t *testing.T) {
	o := newOrch(t, nil)
	a, connA := connect(o)
	_, connB := connect(o)

	for _, frame := range []string{
		`not json`,
		`[1,2,3]`,
		`null`,
		`{"type":5}`,
		`{"type":"teleport"}`,
		`{"hello":"world"}`,
		`{"type":"join","room":""}`,
	} {
		send(o, a, frame)
	}

	assert.Empty(t, connA.Frames())
	assert.Empty(t, connB.Frames())
	assert.False(t, connA.IsClosed())

	send(o, a, `{"type":"ping"}`)
	assert.Equal(t, []string{"pong"}, connA.Types())
}

func TestRouter_PanicRepliesErrorAndRecovers(t *testing.T) {
	o := newOrch(t, nil)
	a, connA := connect(o)
	decoder := o.Decoder
	o.Decoder = nil

	send(o, a, `{"type":"gyroscope","data":{}}`)

	errs := connA.OfType("error")
	require.Len(t, errs, 1)
	assert.Equal(t, "invalid message format", errs[0]["message"])

	o.Decoder = decoder
	connA.Reset()
	send(o, a, `{"type":"ping"}`)
	assert.Equal(t, []string{"pong"}, connA.Types(), "lock is released after a panic")
}

func TestRouter_KickPolicyClosesSlowConsumer(t *testing.T) {
	o := newOrch(t, func(c *config.Config) { c.SlowConsumer = config.SlowKick })
	a, _ := connect(o)
	_, connB := connect(o)
	connB.SendErr = core.ErrBackpressure

	send(o, a, `{"type":"shake","data":{"count":1}}`)

	assert.Eventually(t, func() bool {
		code, _ := connB.CloseInfo()
		return code == core.CloseGoingAway
	}, time.Second, 5*time.Millisecond)
}

// stuckConn blocks in CloseWith until released, like a socket whose peer
// stopped reading.
type stuckConn struct {
	*coretest.FakeConn
	release chan struct{}
}

func (c stuckConn) CloseWith(code int, reason string) {
	<-c.release
	c.FakeConn.CloseWith(code, reason)
}

func TestRouter_KickDoesNotHoldTheLock(t *testing.T) {
	o := newOrch(t, func(c *config.Config) { c.SlowConsumer = config.SlowKick })
	a, connA := connect(o)
	slow := stuckConn{FakeConn: &coretest.FakeConn{}, release: make(chan struct{})}
	o.OnConnect("token", "127.0.0.1:2", slow)
	slow.SendErr = core.ErrBackpressure

	done := make(chan struct{})
	go func() {
		send(o, a, `{"type":"shake","data":{"count":1}}`)
		send(o, a, `{"type":"ping"}`)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		close(slow.release)
		t.Fatal("routing stalled behind a kicked connection")
	}
	assert.Equal(t, []string{"you-are-controller", "ack", "pong"}, connA.Types())
	assert.False(t, slow.IsClosed())

	close(slow.release)
	assert.Eventually(t, func() bool {
		code, reason := slow.CloseInfo()
		return code == core.CloseGoingAway && reason == "slow consumer"
	}, time.Second, 5*time.Millisecond)
}

func TestRouter_JoinRateLimit(t *testing.T) {
	o := newOrch(t, func(c *config.Config) { c.JoinLimit = 1 })
	a, connA := connect(o)

	send(o, a, `{"type":"join","room":"r1","role":"sender"}`)
	send(o, a, `{"type":"join","room":"r2","role":"sender"}`)

	assert.Equal(t, []string{"joined", "error"}, connA.Types())
	room, _, _ := a.Membership()
	assert.EqualValues(t, "r1", room)
}

func TestRouter_CountsClassifiedMessages(t *testing.T) {
	o := newOrch(t, nil)
	a, _ := connect(o)

	send(o, a, `{"type":"ping"}`)
	send(o, a, `{"type":"gyroscope","data":{}}`)
	send(o, a, `garbage`)

	snap := o.Stats.Snapshot()
	assert.EqualValues(t, 2, snap.TotalMessages)
	assert.EqualValues(t, 1, snap.ByType["ping"])
	assert.EqualValues(t, 1, snap.ByType["gyroscope"])
}

func TestRouter_RoomScopedJoinDropsGlobalClaim(t *testing.T) {
	o := newOrch(t, func(c *config.Config) { c.ControllerScope = config.ScopeRoom })
	a, connA := connect(o)
	_, connB := connect(o)
	c, _ := connect(o)

	send(o, a, `{"type":"claim"}`)
	require.True(t, o.Arbiter.IsController(app.GlobalScope, a))
	connB.Reset()

	send(o, a, `{"type":"join","room":"r1","role":"sender"}`)
	assert.False(t, o.Arbiter.IsController(app.GlobalScope, a))
	assert.Equal(t, []string{"controller-left"}, connB.Types())

	connA.Reset()
	send(o, c, `{"type":"gyroscope","data":{"alpha":1}}`)
	assert.True(t, o.Arbiter.IsController(app.GlobalScope, c))
	assert.Empty(t, connA.OfType("ejected"), "a roomless claim does not eject a room member")
}

func TestRouter_PipeClientJoinAndRelay(t *testing.T) {
	o := newOrch(t, nil)
	a, connA := connect(o)
	b, connB := connect(o)

	send(o, a, `{"type":"join","room":"r1","role":"sender"}`)
	o.OnFrame(b, false, []byte(`NEWPEER|web-sender|ALL|{"room":"r1","role":"web-sender"}|0|true`))

	require.True(t, b.Pipe())
	frames := connB.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, `NEWPEER|web-sender|ALL|{"room":"r1","role":"web-sender"}|2|true`, string(frames[0]))
	assert.Equal(t, `OTHER|web-sender|ALL|{"type":"ready","room":"r1"}|2|true`, string(frames[1]))

	assert.Equal(t, []string{"joined", "peer-joined", "ready"}, connA.Types())
	assert.Equal(t, "web-sender", connA.OfType("peer-joined")[0]["from"])

	connA.Reset()
	connB.Reset()
	send(o, a, `{"type":"offer","sdp":"v=0 a|b"}`)
	frames = connB.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, "OFFER|sender|ALL|v=0 a|b|2|false", string(frames[0]))

	o.OnFrame(b, false, []byte(`ANSWER|web-sender|sender|v=0 ans|2|true`))
	answers := connA.OfType("answer")
	require.Len(t, answers, 1)
	assert.Equal(t, "web-sender", answers[0]["from"])
	assert.Equal(t, "v=0 ans", answers[0]["sdp"])
}

func TestRouter_LegacyJoinShape(t *testing.T) {
	o := newOrch(t, nil)
	a, connA := connect(o)
	b, connB := connect(o)

	send(o, a, `{"action":"join","id":"alice"}`)
	send(o, b, `{"action":"join","id":"bob"}`)
	require.Equal(t, []string{"joined", "ready"}, connB.Types())
	assert.Equal(t, "default", connB.OfType("joined")[0]["room"])

	connB.Reset()
	send(o, a, `{"signal":"offer","sender":"alice","target":"bob","sdp":"v=0"}`)
	offers := connB.OfType("offer")
	require.Len(t, offers, 1)
	assert.Equal(t, "alice", offers[0]["from"])

	connA.Reset()
	send(o, b, `{"ice":{"candidate":"candidate:1","sdpMid":"0","sdpMLineIndex":0},"sender":"bob","target":"alice"}`)
	cands := connA.OfType("candidate")
	require.Len(t, cands, 1)
	assert.Equal(t, "bob", cands[0]["from"])
}
