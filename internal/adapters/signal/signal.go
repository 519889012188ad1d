package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ClientTokenKey is the gin context key holding the cookie client token.
const ClientTokenKey = "client_token"

type SignalWSController struct {
	Orch       *orch.Orchestrator
	ReadLimit  int64
	WriteWait  time.Duration
	SendBuffer int
}

func NewSignalWSController(o *orch.Orchestrator, cfg *config.Config) *SignalWSController {
	return &SignalWSController{
		Orch:       o,
		ReadLimit:  cfg.ReadLimit,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	}
}

// WsSignalConn is the gorilla implementation of core.SignalConnection.
// Data frames go through a bounded queue drained by writePump; control
// frames are written directly, which gorilla allows concurrently.
type WsSignalConn struct {
	conn      *websocket.Conn
	send      chan core.Frame
	writeWait time.Duration

	mu     sync.RWMutex
	closed bool
}

func NewWsSignalConn(ws *websocket.Conn, buffer int, writeWait time.Duration) *WsSignalConn {
	if buffer <= 0 {
		buffer = 1
	}
	return &WsSignalConn{conn: ws, send: make(chan core.Frame, buffer), writeWait: writeWait}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Ping() error {
	if c.IsClosed() {
		return core.ErrClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
}

// CloseWith sends a close frame with code and reason, then closes. The
// connection refuses new frames before the close frame is written.
func (c *WsSignalConn) CloseWith(code int, reason string) {
	if !c.markClosed() {
		return
	}
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeWait)); err != nil {
		log.Debug().Err(err).Str("module", "signal").Msg("close frame")
	}
	_ = c.conn.Close()
}

func (c *WsSignalConn) Close() {
	if c.markClosed() {
		_ = c.conn.Close()
	}
}

// markClosed flips the closed flag and ends the send queue. It reports
// whether this call did so.
func (c *WsSignalConn) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

func (c *WsSignalConn) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection until it closes
// or ctx is done.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	token := c.GetString(ClientTokenKey)

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := NewWsSignalConn(ws, ctl.SendBuffer, ctl.WriteWait)
	sess := ctl.Orch.OnConnect(token, c.ClientIP(), conn)
	log.Info().Str("module", "signal").Str("sid", token).Stringer("client_id", sess.ID()).
		Str("remote", c.ClientIP()).Msg("new WS connection")

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sess, conn)
}
