package core

import "context"

// Frame is a raw signaling payload.
type Frame []byte

type ChannelState int32

const (
	ChannelIdle ChannelState = iota
	ChannelConnecting
	ChannelOpen
	ChannelClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelIdle:
		return "idle"
	case ChannelConnecting:
		return "connecting"
	case ChannelOpen:
		return "open"
	case ChannelClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SignalChannel is the ordered duplex message stream to the relay.
// Owned by the session; Close is idempotent and never fails.
type SignalChannel interface {
	// Connect fails with domain.ErrChannelBusy if already connecting or open.
	Connect(ctx context.Context) error
	// Send delivers f only while open; nothing is queued for later.
	Send(f Frame) error
	Close()
	State() ChannelState

	OnOpen(func())
	// OnMessage handlers run one at a time, in delivery order.
	OnMessage(func(Frame))
	// OnClosed fires once, with nil reason when closed locally.
	OnClosed(func(reason error))
}
