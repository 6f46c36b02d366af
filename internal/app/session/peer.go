package session

import (
	"sync"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// PeerLink is the negotiation state toward one remote participant.
//
// Initiator: Created -> OfferPending -> AnswerPending -> AnswerApplied -> Connected.
// Responder: Created -> OfferReceived -> AnswerApplied -> Connected.
// Failed and Closed are reachable from any non-terminal state.
type PeerLink struct {
	remote domain.UserID
	role   domain.Role
	conn   core.MediaConnection

	mu            sync.Mutex
	state         domain.NegotiationState
	remoteDescSet bool
	pending       []webrtc.ICECandidateInit
	tracks        []core.RemoteTrack

	// local candidates gathered before our offer or answer went out
	localSent bool
	outbound  []webrtc.ICECandidateInit
}

func newPeerLink(remote domain.UserID, role domain.Role, conn core.MediaConnection) *PeerLink {
	return &PeerLink{
		remote: remote,
		role:   role,
		conn:   conn,
		state:  domain.StateCreated,
	}
}

func (p *PeerLink) Remote() domain.UserID { return p.remote }
func (p *PeerLink) Role() domain.Role     { return p.role }

func (p *PeerLink) State() domain.NegotiationState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// PendingCandidates is the number of remote candidates waiting for the remote description.
func (p *PeerLink) PendingCandidates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// transition moves from -> to and reports whether the link was in from.
func (p *PeerLink) transition(from, to domain.NegotiationState) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != from {
		return false
	}
	p.state = to
	return true
}

func (p *PeerLink) markConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Terminal() || p.state == domain.StateConnected {
		return false
	}
	p.state = domain.StateConnected
	return true
}

func (p *PeerLink) addTrack(t core.RemoteTrack) {
	p.mu.Lock()
	p.tracks = append(p.tracks, t)
	p.mu.Unlock()
}

// addRemoteCandidate applies c, or buffers it while no remote description is set.
// It reports whether c was buffered.
func (p *PeerLink) addRemoteCandidate(c webrtc.ICECandidateInit) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Terminal() {
		return false, domain.ErrSessionClosed
	}
	if !p.remoteDescSet {
		p.pending = append(p.pending, c)
		return true, nil
	}
	return false, p.conn.AddICECandidate(c)
}

// remoteDescriptionApplied flushes buffered candidates in arrival order.
// A failing candidate is logged and the flush goes on.
func (p *PeerLink) remoteDescriptionApplied(logger *zerolog.Logger) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteDescSet = true
	pending := p.pending
	p.pending = nil
	for _, c := range pending {
		if err := p.conn.AddICECandidate(c); err != nil {
			logger.Warn().Err(err).Str("peer", string(p.remote)).Str("candidate", c.Candidate).Msg("buffered candidate rejected")
		}
	}
	return len(pending)
}

// sendLocalCandidate passes c to send once the local description is out,
// and holds it until then.
func (p *PeerLink) sendLocalCandidate(c webrtc.ICECandidateInit, send func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Terminal() {
		return
	}
	if !p.localSent {
		p.outbound = append(p.outbound, c)
		return
	}
	send(c)
}

// localDescriptionSent releases held local candidates in gathering order.
func (p *PeerLink) localDescriptionSent(send func(webrtc.ICECandidateInit)) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.localSent = true
	held := p.outbound
	p.outbound = nil
	for _, c := range held {
		send(c)
	}
	return len(held)
}

// close moves the link to a terminal state and releases the connection.
// Only the first call has an effect.
func (p *PeerLink) close(to domain.NegotiationState) bool {
	p.mu.Lock()
	if p.state.Terminal() {
		p.mu.Unlock()
		return false
	}
	p.state = to
	p.pending = nil
	p.outbound = nil
	p.mu.Unlock()

	p.conn.Close()
	return true
}

// LinkInfo is a point-in-time view of a PeerLink.
type LinkInfo struct {
	User              domain.UserID `json:"user_id"`
	Role              string        `json:"role"`
	State             string        `json:"state"`
	PendingCandidates int           `json:"pending_candidates"`
	Tracks            int           `json:"tracks"`
}

func (p *PeerLink) info() LinkInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return LinkInfo{
		User:              p.remote,
		Role:              p.role.String(),
		State:             p.state.String(),
		PendingCandidates: len(p.pending),
		Tracks:            len(p.tracks),
	}
}
