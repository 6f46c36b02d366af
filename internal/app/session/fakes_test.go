package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/media"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/pion/webrtc/v4"
)

// fakeChannel delivers frames synchronously on the caller's goroutine.
type fakeChannel struct {
	mu         sync.Mutex
	state      core.ChannelState
	sent       []core.Frame
	connectErr error
	connects   int
	closeHook  func()

	onOpen    func()
	onMessage func(core.Frame)
	onClosed  func(error)
}

func (c *fakeChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.connects++
	if c.state == core.ChannelConnecting || c.state == core.ChannelOpen {
		c.mu.Unlock()
		return domain.ErrChannelBusy
	}
	if c.connectErr != nil {
		c.state = core.ChannelClosed
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", domain.ErrChannel, c.connectErr)
	}
	c.state = core.ChannelOpen
	onOpen := c.onOpen
	c.mu.Unlock()
	if onOpen != nil {
		onOpen()
	}
	return nil
}

func (c *fakeChannel) Send(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != core.ChannelOpen {
		return domain.ErrChannelNotOpen
	}
	c.sent = append(c.sent, f)
	return nil
}

func (c *fakeChannel) Close() { c.closeWith(nil) }

func (c *fakeChannel) closeWith(reason error) {
	c.mu.Lock()
	prev := c.state
	if prev == core.ChannelClosed {
		c.mu.Unlock()
		return
	}
	c.state = core.ChannelClosed
	onClosed, hook := c.onClosed, c.closeHook
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	if prev != core.ChannelIdle && onClosed != nil {
		onClosed(reason)
	}
}

func (c *fakeChannel) State() core.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeChannel) OnOpen(fn func())               { c.onOpen = fn }
func (c *fakeChannel) OnMessage(fn func(core.Frame))  { c.onMessage = fn }
func (c *fakeChannel) OnClosed(fn func(reason error)) { c.onClosed = fn }

func (c *fakeChannel) deliver(t *testing.T, msg protocol.Message) {
	t.Helper()
	b, err := protocol.EncodeInbound(msg)
	if err != nil {
		t.Fatalf("encode %s: %v", msg.Kind(), err)
	}
	c.onMessage(b)
}

// sentOf returns outbound messages of kind k in send order.
func (c *fakeChannel) sentOf(t *testing.T, k protocol.Kind) []protocol.Message {
	t.Helper()
	c.mu.Lock()
	frames := append([]core.Frame(nil), c.sent...)
	c.mu.Unlock()

	var out []protocol.Message
	for _, f := range frames {
		msg, err := protocol.Decode(f)
		if err != nil {
			t.Fatalf("decode sent frame %s: %v", f, err)
		}
		if msg.Kind() == k {
			out = append(out, msg)
		}
	}
	return out
}

// sentKinds lists the kinds of all outbound messages in send order.
func (c *fakeChannel) sentKinds(t *testing.T) []protocol.Kind {
	t.Helper()
	c.mu.Lock()
	frames := append([]core.Frame(nil), c.sent...)
	c.mu.Unlock()

	out := make([]protocol.Kind, 0, len(frames))
	for _, f := range frames {
		msg, err := protocol.Decode(f)
		if err != nil {
			t.Fatalf("decode sent frame %s: %v", f, err)
		}
		out = append(out, msg.Kind())
	}
	return out
}

type fakeTrack struct {
	id   string
	kind webrtc.RTPCodecType
}

func (f fakeTrack) ID() string                { return f.id }
func (f fakeTrack) StreamID() string          { return "remote" }
func (f fakeTrack) Kind() webrtc.RTPCodecType { return f.kind }

type replaceCall struct {
	kind  webrtc.RTPCodecType
	track webrtc.TrackLocal
}

type fakeConn struct {
	peer domain.UserID

	mu          sync.Mutex
	started     bool
	closed      bool
	local       map[webrtc.RTPCodecType]webrtc.TrackLocal
	replaced    []replaceCall
	remoteSDPs  []webrtc.SessionDescription
	applied     []string
	badCands    map[string]bool
	offerErr    error
	answerErr   error
	applyOffErr error

	// hook runs inside the next negotiation call, before it returns.
	hook func()

	ctx     context.Context
	onICE   func(webrtc.ICECandidateInit)
	onTrack func(context.Context, core.RemoteTrack)
	onState func(webrtc.PeerConnectionState)
}

func (c *fakeConn) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	c.ctx = ctx
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) AddLocalTrack(t webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local == nil {
		c.local = make(map[webrtc.RTPCodecType]webrtc.TrackLocal)
	}
	if _, ok := c.local[t.Kind()]; ok {
		return errors.New("duplicate kind")
	}
	c.local[t.Kind()] = t
	return nil
}

func (c *fakeConn) ReserveSender(kind webrtc.RTPCodecType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local == nil {
		c.local = make(map[webrtc.RTPCodecType]webrtc.TrackLocal)
	}
	if _, ok := c.local[kind]; !ok {
		c.local[kind] = nil
	}
	return nil
}

func (c *fakeConn) ReplaceTrack(kind webrtc.RTPCodecType, t webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.local[kind]; !ok {
		return errors.New("no sender")
	}
	c.local[kind] = t
	c.replaced = append(c.replaced, replaceCall{kind: kind, track: t})
	return nil
}

func (c *fakeConn) runHook() {
	c.mu.Lock()
	h := c.hook
	c.hook = nil
	c.mu.Unlock()
	if h != nil {
		h()
	}
}

func (c *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	c.runHook()
	if c.offerErr != nil {
		return webrtc.SessionDescription{}, c.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-to-" + string(c.peer)}, nil
}

func (c *fakeConn) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	c.runHook()
	if c.applyOffErr != nil {
		return webrtc.SessionDescription{}, c.applyOffErr
	}
	c.mu.Lock()
	c.remoteSDPs = append(c.remoteSDPs, offer)
	c.mu.Unlock()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-to-" + string(c.peer)}, nil
}

func (c *fakeConn) ApplyAnswer(answer webrtc.SessionDescription) error {
	c.runHook()
	if c.answerErr != nil {
		return c.answerErr
	}
	c.mu.Lock()
	c.remoteSDPs = append(c.remoteSDPs, answer)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applied = append(c.applied, ci.Candidate)
	if c.badCands[ci.Candidate] {
		return errors.New("bad candidate")
	}
	return nil
}

func (c *fakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit))    { c.onICE = fn }
func (c *fakeConn) OnTrack(fn func(context.Context, core.RemoteTrack)) { c.onTrack = fn }
func (c *fakeConn) OnStateChange(fn func(webrtc.PeerConnectionState))  { c.onState = fn }

func (c *fakeConn) appliedCandidates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.applied...)
}

func (c *fakeConn) replaceCalls() []replaceCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]replaceCall(nil), c.replaced...)
}

func (c *fakeConn) localTrack(kind webrtc.RTPCodecType) webrtc.TrackLocal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local[kind]
}

func (c *fakeConn) emitTrack(id string, kind webrtc.RTPCodecType) {
	c.onTrack(c.ctx, fakeTrack{id: id, kind: kind})
}

// fakeNet hands out fakeConns and remembers them per peer.
type fakeNet struct {
	mu      sync.Mutex
	conns   map[domain.UserID][]*fakeConn
	err     error
	prepare func(*fakeConn)
}

func (n *fakeNet) factory(peer domain.UserID) (core.MediaConnection, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return nil, n.err
	}
	c := &fakeConn{peer: peer}
	if n.conns == nil {
		n.conns = make(map[domain.UserID][]*fakeConn)
	}
	n.conns[peer] = append(n.conns[peer], c)
	if n.prepare != nil {
		n.prepare(c)
	}
	return c, nil
}

func (n *fakeNet) last(t *testing.T, peer domain.UserID) *fakeConn {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	cs := n.conns[peer]
	if len(cs) == 0 {
		t.Fatalf("no connection toward %s", peer)
	}
	return cs[len(cs)-1]
}

func (n *fakeNet) count(peer domain.UserID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.conns[peer])
}

type fakeAcquirer struct {
	mu      sync.Mutex
	fail    map[domain.SourceKind]error
	sources []*media.Source
}

func (a *fakeAcquirer) Acquire(ctx context.Context, kind domain.SourceKind) (*media.Source, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail[kind]; err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMediaAcquisition, err)
	}
	var tracks []*media.LocalTrack
	kinds := []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo}
	if kind == domain.SourceScreen {
		kinds = kinds[1:]
	}
	for _, k := range kinds {
		t, err := media.NewLocalTrack(k, fmt.Sprintf("%s-%s-%d", kind, k, len(a.sources)), "local")
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	src := media.NewSource(kind, tracks...)
	a.sources = append(a.sources, src)
	return src, nil
}

func (a *fakeAcquirer) setFail(kind domain.SourceKind, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail == nil {
		a.fail = make(map[domain.SourceKind]error)
	}
	a.fail[kind] = err
}

type harness struct {
	ch  *fakeChannel
	net *fakeNet
	acq *fakeAcquirer
	m   *Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{ch: &fakeChannel{}, net: &fakeNet{}, acq: &fakeAcquirer{}}
	h.m = NewManager(Deps{
		Channel:       h.ch,
		NewConnection: h.net.factory,
		Acquirer:      h.acq,
	})
	t.Cleanup(h.m.Leave)
	return h
}

// joined returns a harness whose session is Active as "alice" in room "r1".
func joined(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t)
	if err := h.m.Join(context.Background(), "r1", "alice"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	return h
}

func sdp(typ webrtc.SDPType, body string) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: typ, SDP: body}
}

func cand(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}
