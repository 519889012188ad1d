package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
)

type Welcome struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	ClientID  uint64 `json:"clientId"`
	Instance  string `json:"instance,omitempty"`
}

func NewWelcome(clientID uint64, instance string, ts int64) Welcome {
	return Welcome{
		Type:      TypeConnection,
		Message:   "WebSocket connection established",
		Timestamp: ts,
		ClientID:  clientID,
		Instance:  instance,
	}
}

type Joined struct {
	Type  string   `json:"type"`
	Room  string   `json:"room"`
	Role  string   `json:"role"`
	Peers []string `json:"peers"`
}

type Ready struct {
	Type    string `json:"type"`
	Room    string `json:"room"`
	Message string `json:"message"`
}

func NewReady(room string) Ready {
	return Ready{Type: TypeReady, Room: room, Message: "Both peers joined, WebRTC can start"}
}

type Left struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
}

type PeerJoined struct {
	Type string `json:"type"`
	From string `json:"from"`
}

type PeerLeft struct {
	Type string `json:"type"`
	Room string `json:"room"`
	Role string `json:"role"`
}

type Pong struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type YouAreController struct {
	Type  string `json:"type"`
	Since int64  `json:"since"`
}

type Ejected struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type ControllerLeft struct {
	Type string `json:"type"`
}

// ControlBroadcast is the normalized {type, data, timestamp} envelope.
type ControlBroadcast struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	ClientID  uint64          `json:"clientId,omitempty"`
}

type ScreenCapture struct {
	Type      string    `json:"type"`
	ClientID  int64     `json:"clientId"`
	Timestamp int64     `json:"timestamp"`
	Size      int64     `json:"size"`
	Image     ByteArray `json:"image"`
}

func NewScreenCapture(h ScreenCaptureHeader, image []byte) ScreenCapture {
	return ScreenCapture{
		Type:      TypeScreenCapture,
		ClientID:  h.ClientID,
		Timestamp: h.Timestamp,
		Size:      h.Size,
		Image:     image,
	}
}

type Ack struct {
	Type         string `json:"type"`
	Message      string `json:"message"`
	Timestamp    int64  `json:"timestamp"`
	ClientsCount int    `json:"clientsCount"`
}

type Error struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// ByteArray marshals as a JSON array of numbers instead of base64, which is
// what the Unity and browser receivers parse.
type ByteArray []byte

func (b ByteArray) MarshalJSON() ([]byte, error) {
	out := make([]byte, 0, 2+len(b)*4)
	out = append(out, '[')
	for i, v := range b {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendUint(out, uint64(v), 10)
	}
	return append(out, ']'), nil
}

func (b *ByteArray) UnmarshalJSON(data []byte) error {
	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return err
	}
	out := make(ByteArray, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return fmt.Errorf("byte %d out of range: %d", i, n)
		}
		out[i] = byte(n)
	}
	*b = out
	return nil
}
