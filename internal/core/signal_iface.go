package core

import "errors"

// Frame is one serialized outbound text message.
type Frame []byte

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// Close codes sent with CloseWith.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
)

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend queues f without blocking. It fails with ErrBackpressure when the
	// outbound queue is full and ErrClosed after Close.
	TrySend(f Frame) error
	// Ping writes a transport-level ping.
	Ping() error
	// CloseWith writes a close frame with code and reason, then closes.
	CloseWith(code int, reason string)
	Close()
	IsClosed() bool
}
