package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (c *WSChannel) pongWait() time.Duration {
	return c.opts.PingPeriod * 10 / 9
}

func (c *WSChannel) writePump(ctx context.Context, conn *websocket.Conn, send <-chan core.Frame) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data := <-send:
			if err := conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.shutdown(fmt.Errorf("%w: set write deadline: %w", domain.ErrChannel, err))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.shutdown(fmt.Errorf("%w: write: %w", domain.ErrChannel, err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.shutdown(fmt.Errorf("%w: ping: %w", domain.ErrChannel, err))
				return
			}
		}
	}
}

func (c *WSChannel) readPump(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(c.opts.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(c.pongWait()))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongWait()))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.shutdown(fmt.Errorf("%w: read: %w", domain.ErrChannel, err))
			return
		}
		c.mu.RLock()
		onMessage := c.onMessage
		c.mu.RUnlock()
		if onMessage != nil {
			onMessage(data)
		}
	}
}
