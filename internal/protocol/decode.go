package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

var legacyGyroFields = []string{"alpha", "beta", "gamma"}

// Decoder classifies inbound text frames. It is safe for concurrent use.
type Decoder struct {
	control map[string]struct{}
}

func NewDecoder(controlTypes []string) *Decoder {
	if len(controlTypes) == 0 {
		controlTypes = DefaultControlTypes
	}
	d := &Decoder{control: make(map[string]struct{}, len(controlTypes))}
	for _, t := range controlTypes {
		d.control[t] = struct{}{}
	}
	return d
}

// IsControl reports whether t is routed through the controller gate.
func (d *Decoder) IsControl(t string) bool {
	_, ok := d.control[t]
	return ok
}

func (d *Decoder) Decode(data []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		if frame, ok := ParsePipe(string(data)); ok {
			return decodePipe(frame)
		}
		return nil, ErrMalformed
	}

	var typ string
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &typ); err != nil {
			return nil, fmt.Errorf("%w: type is not a string", ErrMalformed)
		}
	}

	switch typ {
	case TypeJoin:
		var j Join
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, fmt.Errorf("%w: join: %v", ErrMalformed, err)
		}
		return j, nil
	case TypeLeave:
		return Leave{}, nil
	case TypeClaim:
		return Claim{}, nil
	case TypePing:
		var p Ping
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: ping: %v", ErrMalformed, err)
		}
		return p, nil
	case TypeOffer, TypeAnswer, TypeCandidate, TypeReady:
		return decodeSignal(typ, fields)
	case TypeScreenCaptureHeader:
		var h ScreenCaptureHeader
		if err := json.Unmarshal(data, &h); err != nil {
			return nil, fmt.Errorf("%w: screen capture header: %v", ErrMalformed, err)
		}
		return h, nil
	}

	if d.IsControl(typ) {
		if payload, ok := fields["data"]; ok {
			return Control{MsgType: typ, Data: payload}, nil
		}
		flat, err := flatten(fields)
		if err != nil {
			return nil, err
		}
		return Control{MsgType: typ, Data: flat, Legacy: true}, nil
	}

	if m, ok, err := decodeLegacy(fields); ok {
		return m, err
	}

	if looksLikeGyro(fields) {
		flat, err := flatten(fields)
		if err != nil {
			return nil, err
		}
		return Control{MsgType: TypeGyroscope, Data: flat, Legacy: true}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
}

func decodeSignal(typ string, fields map[string]json.RawMessage) (Signal, error) {
	s := Signal{MsgType: typ, Fields: fields}
	if raw, ok := fields["to"]; ok {
		_ = json.Unmarshal(raw, &s.To)
	}

	switch typ {
	case TypeOffer, TypeAnswer:
		var sdp string
		if raw, ok := fields["sdp"]; ok {
			if err := json.Unmarshal(raw, &sdp); err != nil {
				return Signal{}, fmt.Errorf("%w: sdp is not a string", ErrMalformed)
			}
		}
		s.Description = &webrtc.SessionDescription{Type: webrtc.NewSDPType(typ), SDP: sdp}
	case TypeCandidate:
		s.Candidate = decodeCandidate(fields)
	}
	return s, nil
}

// decodeCandidate accepts the nested browser shape and the flat shape where
// sdpMid and sdpMLineIndex sit next to a string "candidate".
func decodeCandidate(fields map[string]json.RawMessage) *webrtc.ICECandidateInit {
	raw, ok := fields["candidate"]
	if !ok {
		return nil
	}
	var nested webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &nested); err == nil {
		return &nested
	}
	var flat webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &flat.Candidate); err != nil {
		return nil
	}
	if mid, ok := fields["sdpMid"]; ok {
		_ = json.Unmarshal(mid, &flat.SDPMid)
	}
	if idx, ok := fields["sdpMLineIndex"]; ok {
		_ = json.Unmarshal(idx, &flat.SDPMLineIndex)
	}
	return &flat
}

func looksLikeGyro(fields map[string]json.RawMessage) bool {
	for _, k := range legacyGyroFields {
		if _, ok := fields[k]; ok {
			return true
		}
	}
	return false
}

func flatten(fields map[string]json.RawMessage) (json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		if k == "type" {
			continue
		}
		out[k] = v
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return b, nil
}
