// Package signal is the websocket transport to the signaling relay.
package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

const (
	defaultPingPeriod   = 54 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultReadLimit    = 32768
	defaultSendBuffer   = 32
)

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
	Dialer       *websocket.Dialer
}

// WSChannel implements core.SignalChannel over a single websocket.
// Messages are delivered from one read goroutine, so handlers see them in order.
type WSChannel struct {
	url  string
	opts Options

	mu     sync.RWMutex
	state  core.ChannelState
	conn   *websocket.Conn
	send   chan core.Frame
	cancel context.CancelFunc

	onOpen    func()
	onMessage func(core.Frame)
	onClosed  func(error)
}

func NewWSChannel(url string, opts Options) *WSChannel {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = defaultPingPeriod
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &WSChannel{url: url, opts: opts}
}

func (c *WSChannel) OnOpen(fn func()) {
	c.mu.Lock()
	c.onOpen = fn
	c.mu.Unlock()
}

func (c *WSChannel) OnMessage(fn func(core.Frame)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

func (c *WSChannel) OnClosed(fn func(error)) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}

func (c *WSChannel) State() core.ChannelState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *WSChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == core.ChannelConnecting || c.state == core.ChannelOpen {
		c.mu.Unlock()
		return domain.ErrChannelBusy
	}
	c.state = core.ChannelConnecting
	c.mu.Unlock()

	log.Info().Str("module", "signal").Str("url", c.url).Msg("connecting")
	conn, _, err := c.opts.Dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.mu.Lock()
		c.state = core.ChannelClosed
		c.mu.Unlock()
		return fmt.Errorf("%w: dial %s: %w", domain.ErrChannel, c.url, err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.state != core.ChannelConnecting {
		c.mu.Unlock()
		cancel()
		_ = conn.Close()
		return fmt.Errorf("%w: closed while connecting", domain.ErrChannel)
	}
	c.conn = conn
	c.send = make(chan core.Frame, c.opts.SendBuffer)
	c.cancel = cancel
	c.state = core.ChannelOpen
	onOpen := c.onOpen
	c.mu.Unlock()

	log.Info().Str("module", "signal").Str("url", c.url).Msg("open")
	if onOpen != nil {
		onOpen()
	}

	go c.writePump(pumpCtx, conn, c.send)
	go c.readPump(pumpCtx, conn)
	return nil
}

// Send queues f for the write pump. Nothing is kept once the channel is not open.
func (c *WSChannel) Send(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != core.ChannelOpen {
		log.Warn().Str("module", "signal").Str("state", c.state.String()).Msg("send dropped, channel not open")
		return domain.ErrChannelNotOpen
	}
	select {
	case c.send <- f:
	default:
		log.Warn().Str("module", "signal").Msg("send dropped, backpressure")
		return ErrBackpressure
	}
	return nil
}

func (c *WSChannel) Close() {
	c.shutdown(nil)
}

// shutdown moves to Closed once and reports reason to the OnClosed handler.
func (c *WSChannel) shutdown(reason error) {
	c.mu.Lock()
	prev := c.state
	if prev == core.ChannelClosed {
		c.mu.Unlock()
		return
	}
	c.state = core.ChannelClosed
	conn := c.conn
	if c.cancel != nil {
		c.cancel()
	}
	onClosed := c.onClosed
	c.mu.Unlock()

	if conn != nil {
		if reason == nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leave")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteTimeout))
		}
		_ = conn.Close()
	}

	if reason != nil {
		log.Warn().Err(reason).Str("module", "signal").Msg("channel closed")
	} else {
		log.Info().Str("module", "signal").Msg("channel closed")
	}
	if prev != core.ChannelIdle && onClosed != nil {
		onClosed(reason)
	}
}
