// Package coretest provides an in-memory SignalConnection for tests.
package coretest

import (
	"encoding/json"
	"sync"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
)

type FakeConn struct {
	mu          sync.Mutex
	frames      [][]byte
	closed      bool
	closeCode   int
	closeReason string
	pings       int

	SendErr error
	PingErr error
}

func (c *FakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrClosed
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	c.frames = append(c.frames, append([]byte(nil), f...))
	return nil
}

func (c *FakeConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return c.PingErr
}

func (c *FakeConn) CloseWith(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
}

func (c *FakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *FakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *FakeConn) CloseInfo() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

func (c *FakeConn) Pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

func (c *FakeConn) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

// Messages decodes every received frame as a JSON object.
func (c *FakeConn) Messages() []map[string]any {
	var out []map[string]any
	for _, f := range c.Frames() {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// Types lists the "type" of every received frame in order.
func (c *FakeConn) Types() []string {
	var out []string
	for _, m := range c.Messages() {
		t, _ := m["type"].(string)
		out = append(out, t)
	}
	return out
}

// OfType returns the received messages with the given type.
func (c *FakeConn) OfType(typ string) []map[string]any {
	var out []map[string]any
	for _, m := range c.Messages() {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (c *FakeConn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

// NewSession builds a session over a fresh FakeConn.
func NewSession(id domain.ClientID) (*core.Session, *FakeConn) {
	conn := &FakeConn{}
	return core.NewSession(domain.NewPeer(id, "token", "127.0.0.1"), conn), conn
}
