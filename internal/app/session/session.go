// Package session drives one membership in a full-mesh room: it owns the
// signaling channel, the local media source and one PeerLink per remote peer.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/media"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RemoteTrackHandler is called for every remote track once it is registered.
// ctx ends when the connection that carries the track closes.
type RemoteTrackHandler func(ctx context.Context, user domain.UserID, track core.RemoteTrack)

type Deps struct {
	Channel       core.SignalChannel
	NewConnection core.MediaConnectionFactory
	Acquirer      core.MediaAcquirer
	// Registry is created when nil.
	Registry      *app.TrackRegistry
	OnRemoteTrack RemoteTrackHandler
}

type Manager struct {
	id       string
	ch       core.SignalChannel
	newConn  core.MediaConnectionFactory
	acquirer core.MediaAcquirer
	registry *app.TrackRegistry
	onTrack  RemoteTrackHandler
	logger   atomic.Pointer[zerolog.Logger]

	ctx       context.Context
	cancel    context.CancelFunc
	stopLeave func() bool

	mu       sync.Mutex
	phase    domain.Phase
	room     domain.RoomID
	user     domain.UserID
	links    map[domain.UserID]*PeerLink
	source   *media.Source
	sharing  bool
	muted    bool
	videoOff bool

	// wireMu orders attaching tracks to a new link against source swaps.
	wireMu sync.Mutex

	done     chan struct{}
	doneOnce sync.Once
	err      error
}

func NewManager(d Deps) *Manager {
	reg := d.Registry
	if reg == nil {
		reg = app.NewTrackRegistry()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		id:       uuid.NewString(),
		ch:       d.Channel,
		newConn:  d.NewConnection,
		acquirer: d.Acquirer,
		registry: reg,
		onTrack:  d.OnRemoteTrack,
		ctx:      ctx,
		cancel:   cancel,
		phase:    domain.PhaseIdle,
		links:    make(map[domain.UserID]*PeerLink),
		done:     make(chan struct{}),
	}
	l := log.With().Str("module", "session").Str("sid", m.id).Logger()
	m.logger.Store(&l)
	return m
}

func (m *Manager) log() *zerolog.Logger { return m.logger.Load() }

// Join acquires the camera, opens the channel and announces the user.
// The session is Active once the channel reports open. ctx owns the
// membership: once it is done the session is left.
func (m *Manager) Join(ctx context.Context, room domain.RoomID, user domain.UserID) error {
	m.mu.Lock()
	if m.phase != domain.PhaseIdle {
		m.mu.Unlock()
		return domain.ErrAlreadyJoined
	}
	m.phase = domain.PhaseJoining
	m.room, m.user = room, user
	m.mu.Unlock()

	l := log.With().Str("module", "session").Str("sid", m.id).Str("room", string(room)).Str("user", string(user)).Logger()
	m.logger.Store(&l)

	src, err := m.acquirer.Acquire(ctx, domain.SourceCamera)
	if err != nil {
		m.mu.Lock()
		m.phase = domain.PhaseIdle
		m.mu.Unlock()
		if !errors.Is(err, domain.ErrMediaAcquisition) {
			err = fmt.Errorf("%w: %w", domain.ErrMediaAcquisition, err)
		}
		m.log().Error().Err(err).Msg("join: media unavailable")
		return err
	}

	m.mu.Lock()
	m.applyFlagsLocked(src)
	m.source = src
	m.mu.Unlock()

	m.ch.OnOpen(m.onChannelOpen)
	m.ch.OnMessage(m.onFrame)
	m.ch.OnClosed(m.onChannelClosed)

	if err := m.ch.Connect(ctx); err != nil {
		if !errors.Is(err, domain.ErrChannel) {
			err = fmt.Errorf("%w: %w", domain.ErrChannel, err)
		}
		m.log().Error().Err(err).Msg("join: channel connect failed")
		m.teardown(err)
		return err
	}

	if m.Phase() != domain.PhaseActive {
		return fmt.Errorf("join %s: %w", room, domain.ErrChannel)
	}
	m.send(protocol.Join{RoomID: room, UserID: user})

	stop := context.AfterFunc(ctx, m.Leave)
	m.mu.Lock()
	m.stopLeave = stop
	m.mu.Unlock()

	m.log().Info().Msg("joined")
	return nil
}

// Leave tears the session down. Safe to call any number of times.
func (m *Manager) Leave() {
	m.teardown(nil)
}

func (m *Manager) teardown(cause error) {
	m.mu.Lock()
	if m.phase == domain.PhaseLeaving || m.phase == domain.PhaseClosed {
		m.mu.Unlock()
		return
	}
	m.phase = domain.PhaseLeaving
	src := m.source
	m.source = nil
	stopLeave := m.stopLeave
	m.mu.Unlock()

	if stopLeave != nil {
		stopLeave()
	}

	m.ch.Close()

	if src != nil {
		src.Stop()
	}

	m.mu.Lock()
	links := make([]*PeerLink, 0, len(m.links))
	for _, link := range m.links {
		links = append(links, link)
	}
	m.mu.Unlock()
	for _, link := range links {
		link.close(domain.StateClosed)
	}

	m.mu.Lock()
	m.links = make(map[domain.UserID]*PeerLink)
	m.registry.Clear()
	m.phase = domain.PhaseClosed
	m.mu.Unlock()

	m.cancel()
	m.finish(cause)

	ev := m.log().Info()
	if cause != nil {
		ev = m.log().Error().Err(cause)
	}
	ev.Int("links", len(links)).Msg("session closed")
}

func (m *Manager) finish(err error) {
	m.doneOnce.Do(func() {
		m.err = err
		close(m.done)
	})
}

// Done is closed once the session reaches Closed.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Err is nil after Leave and wraps domain.ErrChannel after transport loss.
// Valid once Done is closed.
func (m *Manager) Err() error {
	select {
	case <-m.done:
		return m.err
	default:
		return nil
	}
}

func (m *Manager) onChannelOpen() {
	m.mu.Lock()
	if m.phase == domain.PhaseJoining {
		m.phase = domain.PhaseActive
	}
	m.mu.Unlock()
}

func (m *Manager) onChannelClosed(reason error) {
	switch m.Phase() {
	case domain.PhaseLeaving, domain.PhaseClosed:
		return
	}
	err := reason
	if err == nil || !errors.Is(err, domain.ErrChannel) {
		err = fmt.Errorf("%w: %v", domain.ErrChannel, reason)
	}
	m.teardown(err)
}

func (m *Manager) send(msg protocol.Message) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		m.log().Error().Err(err).Str("type", string(msg.Kind())).Msg("encode failed")
		return
	}
	if err := m.ch.Send(frame); err != nil {
		m.log().Debug().Err(err).Str("type", string(msg.Kind())).Msg("send dropped")
	}
}

func (m *Manager) Phase() domain.Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Manager) Room() domain.RoomID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.room
}

func (m *Manager) User() domain.UserID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user
}

func (m *Manager) Registry() *app.TrackRegistry { return m.registry }

// Link returns the current link toward user.
func (m *Manager) Link(user domain.UserID) (*PeerLink, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[user]
	return l, ok
}

// Links lists the current links ordered by remote user.
func (m *Manager) Links() []LinkInfo {
	m.mu.Lock()
	links := make([]*PeerLink, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	m.mu.Unlock()

	out := make([]LinkInfo, 0, len(links))
	for _, l := range links {
		out = append(out, l.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out
}

// Status is a point-in-time view of the session for operators.
type Status struct {
	SessionID string        `json:"session_id"`
	Phase     string        `json:"phase"`
	Room      domain.RoomID `json:"room"`
	User      domain.UserID `json:"user"`
	Source    string        `json:"source"`
	Muted     bool          `json:"muted"`
	VideoOff  bool          `json:"video_off"`
	Peers     []LinkInfo    `json:"peers"`
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	st := Status{
		SessionID: m.id,
		Phase:     m.phase.String(),
		Room:      m.room,
		User:      m.user,
		Muted:     m.muted,
		VideoOff:  m.videoOff,
	}
	if m.source != nil {
		st.Source = string(m.source.Kind())
	}
	m.mu.Unlock()
	st.Peers = m.Links()
	return st
}
