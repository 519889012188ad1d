package signal

import (
	"context"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, sess *core.Session, c *WsSignalConn) {
	stop := context.AfterFunc(ctx, func() {
		c.CloseWith(core.CloseGoingAway, "server shutting down")
	})
	defer func() {
		stop()
		log.Info().Str("module", "signal").Stringer("client_id", sess.ID()).Msg("readPump closing")
		ctl.Orch.OnDisconnect(sess)
	}()

	if ctl.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.ReadLimit)
	}
	c.conn.SetPongHandler(func(string) error {
		sess.MarkAlive()
		return nil
	})

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) && !c.IsClosed() {
				log.Warn().Err(err).Str("module", "signal").Stringer("client_id", sess.ID()).Msg("readPump read error")
			}
			return
		}
		ctl.Orch.OnFrame(sess, mt == websocket.BinaryMessage, data)
	}
}
