// Package protocol defines the JSON wire format spoken by relay clients.
//
// Inbound text frames are decoded into one Message variant per "type".
// Unknown discriminators are not decode errors when the payload looks like a
// legacy flattened gyroscope sample; everything else unknown is ErrUnknownType.
package protocol

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// Inbound types.
const (
	TypeJoin                = "join"
	TypeLeave               = "leave"
	TypeOffer               = "offer"
	TypeAnswer              = "answer"
	TypeCandidate           = "candidate"
	TypeReady               = "ready"
	TypeClaim               = "claim"
	TypePing                = "ping"
	TypeScreenCaptureHeader = "screen_capture_header"
	TypeGyroscope           = "gyroscope"
	TypeShake               = "shake"
	TypeSpin                = "spin"
)

// Outbound types.
const (
	TypeConnection       = "connection"
	TypeJoined           = "joined"
	TypeLeft             = "left"
	TypePeerJoined       = "peer-joined"
	TypePeerLeft         = "peer-left"
	TypePong             = "pong"
	TypeYouAreController = "you-are-controller"
	TypeEjected          = "ejected"
	TypeControllerLeft   = "controller-left"
	TypeScreenCapture    = "screen_capture"
	TypeAck              = "ack"
	TypeError            = "error"
)

// DefaultControlTypes are broadcast through the controller gate.
var DefaultControlTypes = []string{TypeGyroscope, TypeShake, TypeSpin}

type Kind int

const (
	KindUnknown Kind = iota
	// KindSignaling is room scoped and bypasses the controller gate.
	KindSignaling
	// KindControl is controller gated and broadcast to every other connection.
	KindControl
	// KindCapture buffers a header for the next binary frame.
	KindCapture
	// KindSession covers claim and ping, answered only to the sender.
	KindSession
)

func (k Kind) String() string {
	switch k {
	case KindSignaling:
		return "signaling"
	case KindControl:
		return "control"
	case KindCapture:
		return "capture"
	case KindSession:
		return "session"
	}
	return "unknown"
}

// Message is one decoded inbound frame.
type Message interface {
	Type() string
	Kind() Kind
}

type Join struct {
	Room string `json:"room"`
	Role string `json:"role"`
	// Pipe is set when the join arrived as a pipe-delimited frame; replies to
	// that session use the same format.
	Pipe bool `json:"-"`
}

func (Join) Type() string { return TypeJoin }
func (Join) Kind() Kind   { return KindSignaling }

type Leave struct{}

func (Leave) Type() string { return TypeLeave }
func (Leave) Kind() Kind   { return KindSignaling }

// Signal is an offer, answer, candidate or ready message relayed to room peers.
// Fields keeps the whole original object so unknown keys survive the relay.
type Signal struct {
	MsgType     string
	To          string
	Description *webrtc.SessionDescription
	Candidate   *webrtc.ICECandidateInit
	Fields      map[string]json.RawMessage
	Pipe        bool
}

func (s Signal) Type() string { return s.MsgType }
func (Signal) Kind() Kind     { return KindSignaling }

// Broadcast reports whether the signal has no specific target role.
func (s Signal) Broadcast() bool {
	switch s.To {
	case "", "all", "ALL":
		return true
	}
	return false
}

// Forward encodes the signal with "from" set to the sender's role.
func (s Signal) Forward(from string) ([]byte, error) {
	out := make(map[string]json.RawMessage, len(s.Fields)+1)
	for k, v := range s.Fields {
		out[k] = v
	}
	raw, err := json.Marshal(from)
	if err != nil {
		return nil, err
	}
	out["from"] = raw
	return json.Marshal(out)
}

type Claim struct{}

func (Claim) Type() string { return TypeClaim }
func (Claim) Kind() Kind   { return KindSession }

type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

func (Ping) Type() string { return TypePing }
func (Ping) Kind() Kind   { return KindSession }

// ScreenCaptureHeader announces the binary frame that follows it.
type ScreenCaptureHeader struct {
	ClientID  int64 `json:"clientId"`
	Size      int64 `json:"size"`
	Timestamp int64 `json:"timestamp"`
}

func (ScreenCaptureHeader) Type() string { return TypeScreenCaptureHeader }
func (ScreenCaptureHeader) Kind() Kind   { return KindCapture }

// Control is a sensor or state update. Data is always the envelope payload:
// the sender's "data" object, or the flattened fields when Legacy is set.
type Control struct {
	MsgType string
	Data    json.RawMessage
	Legacy  bool
}

func (c Control) Type() string { return c.MsgType }
func (Control) Kind() Kind     { return KindControl }
