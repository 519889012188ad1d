package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// LegacyRoom is joined by {"action":"join","id":...} clients that name no room.
const LegacyRoom = "default"

// VideoSenderRole is flagged as the media sender in pipe frames.
const VideoSenderRole = "web-sender"

// Pipe frame types.
const (
	PipeNewPeer   = "NEWPEER"
	PipeOffer     = "OFFER"
	PipeAnswer    = "ANSWER"
	PipeCandidate = "CANDIDATE"
	PipeOther     = "OTHER"
	PipeAll       = "ALL"
)

const pipeParts = 6

// PipeFrame is the SimpleWebRTC text frame
// TYPE|from|to|payload|connectionCount|isVideoAudioSender.
type PipeFrame struct {
	Type        string
	From        string
	To          string
	Payload     string
	Count       int
	VideoSender bool
}

// ParsePipe splits a pipe frame. The payload may itself contain '|'; the
// first three and the last two fields are positional.
func ParsePipe(text string) (PipeFrame, bool) {
	parts := strings.Split(text, "|")
	n := len(parts)
	if n < pipeParts {
		return PipeFrame{}, false
	}
	count, _ := strconv.Atoi(parts[n-2])
	return PipeFrame{
		Type:        parts[0],
		From:        parts[1],
		To:          parts[2],
		Payload:     strings.Join(parts[3:n-2], "|"),
		Count:       count,
		VideoSender: parts[n-1] == "true",
	}, true
}

func (p PipeFrame) String() string {
	return strings.Join([]string{
		p.Type, p.From, p.To, p.Payload,
		strconv.Itoa(p.Count), strconv.FormatBool(p.VideoSender),
	}, "|")
}

func decodePipe(p PipeFrame) (Message, error) {
	switch p.Type {
	case PipeNewPeer:
		var j Join
		if err := json.Unmarshal([]byte(p.Payload), &j); err != nil {
			return nil, fmt.Errorf("%w: pipe join: %v", ErrMalformed, err)
		}
		j.Pipe = true
		return j, nil
	case PipeOffer, PipeAnswer:
		typ := strings.ToLower(p.Type)
		fields := map[string]json.RawMessage{"sdp": rawString(p.Payload)}
		return pipeSignal(typ, p.To, fields)
	case PipeCandidate:
		var fields map[string]json.RawMessage
		if err := json.Unmarshal([]byte(p.Payload), &fields); err != nil || fields == nil {
			return nil, fmt.Errorf("%w: pipe candidate", ErrMalformed)
		}
		return pipeSignal(TypeCandidate, p.To, fields)
	}
	return nil, fmt.Errorf("%w: pipe %q", ErrUnknownType, p.Type)
}

func pipeSignal(typ, to string, fields map[string]json.RawMessage) (Message, error) {
	fields["type"] = rawString(typ)
	if to != "" {
		fields["to"] = rawString(to)
	}
	s, err := decodeSignal(typ, fields)
	if err != nil {
		return nil, err
	}
	s.Pipe = true
	return s, nil
}

// decodeLegacy maps the pre-"type" client shapes:
//
//	{"action":"join","id":"<role>"}
//	{"signal":"offer"|"answer","sender":..,"target":..,"sdp":..}
//	{"ice":{...},"sender":..,"target":..}
func decodeLegacy(fields map[string]json.RawMessage) (Message, bool, error) {
	str := func(k string) string {
		var s string
		if raw, ok := fields[k]; ok {
			_ = json.Unmarshal(raw, &s)
		}
		return s
	}

	sender, target := str("sender"), str("target")
	switch sig := str("signal"); {
	case str("action") == TypeJoin && str("id") != "":
		room := str("room")
		if room == "" {
			room = LegacyRoom
		}
		return Join{Room: room, Role: str("id")}, true, nil
	case (sig == TypeOffer || sig == TypeAnswer) && sender != "" && target != "" && str("sdp") != "":
		s, err := legacySignal(sig, target, map[string]json.RawMessage{"sdp": fields["sdp"]})
		return s, true, err
	case fields["ice"] != nil && sender != "" && target != "":
		s, err := legacySignal(TypeCandidate, target, map[string]json.RawMessage{"candidate": fields["ice"]})
		return s, true, err
	}
	return nil, false, nil
}

func legacySignal(typ, to string, fields map[string]json.RawMessage) (Message, error) {
	fields["type"] = rawString(typ)
	fields["to"] = rawString(to)
	return decodeSignal(typ, fields)
}

func rawString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// PipeFrame encodes s for a pipe-format peer. Offers and answers carry the
// SDP, candidates a JSON candidate object, anything else the JSON message.
func (s Signal) PipeFrame(from string, count int) (PipeFrame, error) {
	to := s.To
	if s.Broadcast() {
		to = PipeAll
	}
	f := PipeFrame{From: from, To: to, Count: count, VideoSender: from == VideoSenderRole}
	switch {
	case s.Description != nil:
		f.Type = strings.ToUpper(s.MsgType)
		f.Payload = s.Description.SDP
	case s.Candidate != nil:
		b, err := json.Marshal(s.Candidate)
		if err != nil {
			return PipeFrame{}, err
		}
		f.Type = PipeCandidate
		f.Payload = string(b)
	default:
		b, err := s.Forward(from)
		if err != nil {
			return PipeFrame{}, err
		}
		f.Type = PipeOther
		f.Payload = string(b)
	}
	return f, nil
}
