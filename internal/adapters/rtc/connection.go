// Package rtc adapts pion PeerConnections to core.MediaConnection.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoSender       = errors.New("no sender for track kind")
	ErrDuplicateKind  = errors.New("sender for track kind already exists")
	ErrConnectionDone = errors.New("connection closed")
)

type Connection struct {
	pc     *webrtc.PeerConnection
	peer   domain.UserID
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	mu      sync.Mutex
	senders map[webrtc.RTPCodecType]*webrtc.RTPSender

	onICE   func(webrtc.ICECandidateInit)
	onTrack func(ctx context.Context, track core.RemoteTrack)
	onState func(webrtc.PeerConnectionState)
}

func DefaultWebRTCConfig(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: iceServers,
			},
		},
	}
}

// NewAPI builds a pion API with default codecs and interceptors, logging through lf.
func NewAPI(lf logging.LoggerFactory) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	se := webrtc.SettingEngine{}
	if lf != nil {
		se.LoggerFactory = lf
	}
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}

// Factory returns a core.MediaConnectionFactory bound to api and cfg.
func Factory(api *webrtc.API, cfg webrtc.Configuration) core.MediaConnectionFactory {
	return func(peer domain.UserID) (core.MediaConnection, error) {
		return NewConnection(api, cfg, peer)
	}
}

func NewConnection(api *webrtc.API, cfg webrtc.Configuration, peer domain.UserID) (*Connection, error) {
	if api == nil {
		api = webrtc.NewAPI()
	}
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &Connection{
		pc:      pc,
		peer:    peer,
		senders: make(map[webrtc.RTPCodecType]*webrtc.RTPSender),
	}, nil
}

func (c *Connection) Start(ctx context.Context) error {
	if c.closed.Load() {
		return ErrConnectionDone
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "webrtc").Str("peer", string(c.peer)).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer", string(c.peer)).Str("peer_connection_state", s.String()).Msg("Peer state")
		if c.onState != nil {
			c.onState(s)
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.onICE != nil {
			c.onICE(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("peer", string(c.peer)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if c.onTrack != nil {
			c.onTrack(c.ctx, track)
		}
	})

	return nil
}

func (c *Connection) AddLocalTrack(track webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.senders[track.Kind()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKind, track.Kind().String())
	}
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return err
	}
	c.senders[track.Kind()] = sender
	go drainRTCP(sender)
	return nil
}

// ReserveSender adds a sendrecv transceiver for kind. pion binds a
// placeholder track to it until ReplaceTrack supplies real media.
func (c *Connection) ReserveSender(kind webrtc.RTPCodecType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.senders[kind]; ok {
		return nil
	}
	tr, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	})
	if err != nil {
		return fmt.Errorf("reserve %s sender: %w", kind.String(), err)
	}
	sender := tr.Sender()
	if sender == nil {
		return fmt.Errorf("%w: %s", ErrNoSender, kind.String())
	}
	c.senders[kind] = sender
	go drainRTCP(sender)
	return nil
}

// drainRTCP reads sender RTCP until the sender closes; interceptors only act on what is read.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *Connection) ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	c.mu.Lock()
	sender, ok := c.senders[kind]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSender, kind.String())
	}
	return sender.ReplaceTrack(track)
}

func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return c.localDescription(offer), nil
}

// localDescription prefers the applied description, which carries the
// candidates gathered so far.
func (c *Connection) localDescription(fallback webrtc.SessionDescription) webrtc.SessionDescription {
	if ld := c.pc.LocalDescription(); ld != nil {
		return *ld
	}
	return fallback
}

func (c *Connection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return c.localDescription(answer), nil
}

func (c *Connection) ApplyAnswer(answer webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(answer)
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("peer", string(c.peer)).Msg("close error")
	} else {
		log.Info().Str("module", "webrtc").Str("peer", string(c.peer)).Msg("closed")
	}
}

func (c *Connection) IsClosed() bool { return c.closed.Load() }

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.onICE = fn
}

// OnTrack sets application-level callback for remote tracks.
func (c *Connection) OnTrack(fn func(ctx context.Context, track core.RemoteTrack)) {
	c.onTrack = fn
}

func (c *Connection) OnStateChange(fn func(webrtc.PeerConnectionState)) { c.onState = fn }
