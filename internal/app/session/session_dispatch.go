package session

import (
	"context"
	"fmt"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/pion/webrtc/v4"
)

// onFrame runs on the channel's read goroutine, one frame at a time.
func (m *Manager) onFrame(f core.Frame) {
	msg, err := protocol.Decode(f)
	if err != nil {
		m.log().Warn().Err(err).Int("bytes", len(f)).Msg("undecodable frame dropped")
		return
	}
	m.dispatch(msg)
}

func (m *Manager) dispatch(msg protocol.Message) {
	if phase := m.Phase(); phase != domain.PhaseActive {
		m.violation(msg, fmt.Sprintf("session %s", phase))
		return
	}

	switch msg := msg.(type) {
	case protocol.ExistingParticipants:
		m.handleExisting(msg)
	case protocol.NewParticipant:
		// The newcomer sends the offer.
		m.log().Info().Str("peer", string(msg.UserID)).Msg("participant joined")
	case protocol.Offer:
		m.handleOffer(msg)
	case protocol.Answer:
		m.handleAnswer(msg)
	case protocol.ICECandidate:
		m.handleCandidate(msg)
	case protocol.ParticipantLeft:
		m.removePeer(msg.UserID)
	default:
		m.violation(msg, "unexpected message")
	}
}

func (m *Manager) violation(msg protocol.Message, why string) {
	m.log().Warn().Err(domain.ErrProtocolViolation).Str("type", string(msg.Kind())).Str("why", why).Msg("message ignored")
}

func (m *Manager) handleExisting(msg protocol.ExistingParticipants) {
	self := m.User()
	for _, peer := range msg.UserIDs {
		if peer == self || peer == "" {
			continue
		}
		link, created, err := m.getOrCreate(peer, domain.RoleInitiator)
		if err != nil {
			m.log().Error().Err(err).Str("peer", string(peer)).Msg("link setup failed")
			continue
		}
		if !created {
			m.log().Debug().Str("peer", string(peer)).Msg("link exists, no new offer")
			continue
		}
		m.initiate(link)
	}
}

func (m *Manager) initiate(link *PeerLink) {
	if !link.transition(domain.StateCreated, domain.StateOfferPending) {
		return
	}
	offer, err := link.conn.CreateOffer()
	if !m.isCurrent(link) {
		m.log().Debug().Str("peer", string(link.remote)).Msg("stale offer discarded")
		return
	}
	if err != nil {
		m.failLink(link, fmt.Errorf("%w: create offer: %w", domain.ErrNegotiation, err))
		return
	}
	if !link.transition(domain.StateOfferPending, domain.StateAnswerPending) {
		return
	}
	m.send(protocol.Offer{Peer: link.remote, SDP: offer})
	m.log().Info().Str("peer", string(link.remote)).Msg("offer sent")
	m.releaseLocalCandidates(link)
}

func (m *Manager) handleOffer(msg protocol.Offer) {
	link, created, err := m.getOrCreate(msg.Peer, domain.RoleResponder)
	if err != nil {
		m.log().Error().Err(err).Str("peer", string(msg.Peer)).Msg("link setup failed")
		return
	}
	if link.role != domain.RoleResponder {
		m.violation(msg, "offer from a peer we initiated toward")
		return
	}
	if created {
		link.transition(domain.StateCreated, domain.StateOfferReceived)
	}

	answer, err := link.conn.ApplyOfferAndCreateAnswer(msg.SDP)
	if !m.isCurrent(link) {
		m.log().Debug().Str("peer", string(link.remote)).Msg("stale answer discarded")
		return
	}
	if err != nil {
		m.failLink(link, fmt.Errorf("%w: apply offer: %w", domain.ErrNegotiation, err))
		return
	}
	if n := link.remoteDescriptionApplied(m.log()); n > 0 {
		m.log().Debug().Str("peer", string(link.remote)).Int("candidates", n).Msg("buffered candidates flushed")
	}
	link.transition(domain.StateOfferReceived, domain.StateAnswerApplied)
	m.send(protocol.Answer{Peer: link.remote, SDP: answer})
	m.log().Info().Str("peer", string(link.remote)).Bool("renegotiation", !created).Msg("answer sent")
	m.releaseLocalCandidates(link)
}

func (m *Manager) handleAnswer(msg protocol.Answer) {
	link, ok := m.Link(msg.Peer)
	if !ok || link.State() != domain.StateAnswerPending {
		m.violation(msg, "no link awaiting an answer")
		return
	}

	err := link.conn.ApplyAnswer(msg.SDP)
	if !m.isCurrent(link) {
		m.log().Debug().Str("peer", string(link.remote)).Msg("stale answer result discarded")
		return
	}
	if err != nil {
		m.failLink(link, fmt.Errorf("%w: apply answer: %w", domain.ErrNegotiation, err))
		return
	}
	if n := link.remoteDescriptionApplied(m.log()); n > 0 {
		m.log().Debug().Str("peer", string(link.remote)).Int("candidates", n).Msg("buffered candidates flushed")
	}
	link.transition(domain.StateAnswerPending, domain.StateAnswerApplied)
	m.log().Info().Str("peer", string(link.remote)).Msg("answer applied")
}

func (m *Manager) handleCandidate(msg protocol.ICECandidate) {
	link, ok := m.Link(msg.Peer)
	if !ok {
		m.violation(msg, "candidate for unknown peer")
		return
	}
	buffered, err := link.addRemoteCandidate(msg.Candidate)
	if err != nil {
		m.log().Warn().Err(fmt.Errorf("%w: %w", domain.ErrNegotiation, err)).Str("peer", string(msg.Peer)).Msg("candidate rejected")
		return
	}
	if buffered {
		m.log().Debug().Str("peer", string(msg.Peer)).Msg("candidate buffered")
	}
}

// getOrCreate returns the link toward peer, creating and wiring one with role
// when none exists. created is false for an existing link.
func (m *Manager) getOrCreate(peer domain.UserID, role domain.Role) (*PeerLink, bool, error) {
	m.mu.Lock()
	if link, ok := m.links[peer]; ok {
		m.mu.Unlock()
		return link, false, nil
	}
	if m.phase != domain.PhaseActive {
		m.mu.Unlock()
		return nil, false, domain.ErrSessionClosed
	}
	conn, err := m.newConn(peer)
	if err != nil {
		m.mu.Unlock()
		return nil, false, fmt.Errorf("%w: new connection: %w", domain.ErrNegotiation, err)
	}
	link := newPeerLink(peer, role, conn)
	m.links[peer] = link
	m.mu.Unlock()

	if err := m.wire(link); err != nil {
		m.failLink(link, err)
		return nil, false, err
	}
	m.log().Info().Str("peer", string(peer)).Str("role", role.String()).Msg("link created")
	return link, true, nil
}

func (m *Manager) wire(link *PeerLink) error {
	conn := link.conn
	conn.OnICECandidate(func(c webrtc.ICECandidateInit) { m.onLocalCandidate(link, c) })
	conn.OnTrack(func(ctx context.Context, t core.RemoteTrack) { m.onRemoteTrack(ctx, link, t) })
	conn.OnStateChange(func(s webrtc.PeerConnectionState) { m.onTransportState(link, s) })
	if err := conn.Start(m.ctx); err != nil {
		return fmt.Errorf("%w: start connection: %w", domain.ErrNegotiation, err)
	}

	m.wireMu.Lock()
	defer m.wireMu.Unlock()
	m.mu.Lock()
	src := m.source
	m.mu.Unlock()
	if src != nil {
		for _, t := range src.Tracks() {
			if err := conn.AddLocalTrack(t); err != nil {
				return fmt.Errorf("%w: add %s track: %w", domain.ErrNegotiation, t.Kind(), err)
			}
		}
	}
	// Every link has an audio and a video sender; swaps only replace tracks.
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if err := conn.ReserveSender(kind); err != nil {
			return fmt.Errorf("%w: reserve %s sender: %w", domain.ErrNegotiation, kind, err)
		}
	}
	return nil
}

// isCurrent reports whether link is still the live link for its peer.
// Every async completion checks it before touching state.
func (m *Manager) isCurrent(link *PeerLink) bool {
	m.mu.Lock()
	cur, ok := m.links[link.remote]
	m.mu.Unlock()
	return ok && cur == link && !link.State().Terminal()
}

// onLocalCandidate forwards c to the peer, holding it until our offer or
// answer has been sent.
func (m *Manager) onLocalCandidate(link *PeerLink, c webrtc.ICECandidateInit) {
	if !m.isCurrent(link) {
		return
	}
	link.sendLocalCandidate(c, m.candidateSender(link))
}

func (m *Manager) releaseLocalCandidates(link *PeerLink) {
	if n := link.localDescriptionSent(m.candidateSender(link)); n > 0 {
		m.log().Debug().Str("peer", string(link.remote)).Int("candidates", n).Msg("held candidates sent")
	}
}

func (m *Manager) candidateSender(link *PeerLink) func(webrtc.ICECandidateInit) {
	return func(c webrtc.ICECandidateInit) {
		m.send(protocol.ICECandidate{Peer: link.remote, Candidate: c})
	}
}

func (m *Manager) onRemoteTrack(ctx context.Context, link *PeerLink, t core.RemoteTrack) {
	m.mu.Lock()
	if cur, ok := m.links[link.remote]; !ok || cur != link {
		m.mu.Unlock()
		return
	}
	m.registry.Add(link.remote, t)
	m.mu.Unlock()

	link.addTrack(t)
	if link.markConnected() {
		m.log().Info().Str("peer", string(link.remote)).Msg("link connected")
	}
	if m.onTrack != nil {
		m.onTrack(ctx, link.remote, t)
	}
}

func (m *Manager) onTransportState(link *PeerLink, s webrtc.PeerConnectionState) {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		if m.isCurrent(link) && link.markConnected() {
			m.log().Info().Str("peer", string(link.remote)).Msg("link connected")
		}
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		m.dropLink(link, domain.StateFailed)
		m.log().Warn().Str("peer", string(link.remote)).Str("transport", s.String()).Msg("link lost")
	case webrtc.PeerConnectionStateClosed:
		m.dropLink(link, domain.StateClosed)
	}
}

func (m *Manager) failLink(link *PeerLink, err error) {
	m.log().Error().Err(err).Str("peer", string(link.remote)).Msg("link failed")
	m.dropLink(link, domain.StateFailed)
}

// dropLink removes link if it is still current and closes it either way.
func (m *Manager) dropLink(link *PeerLink, to domain.NegotiationState) {
	m.mu.Lock()
	if cur, ok := m.links[link.remote]; ok && cur == link {
		delete(m.links, link.remote)
		m.registry.Remove(link.remote)
	}
	m.mu.Unlock()
	link.close(to)
}

// removePeer handles a departure. Unknown peers are a no-op.
func (m *Manager) removePeer(peer domain.UserID) {
	m.mu.Lock()
	link, ok := m.links[peer]
	delete(m.links, peer)
	m.registry.Remove(peer)
	m.mu.Unlock()
	if !ok {
		return
	}
	link.close(domain.StateClosed)
	m.log().Info().Str("peer", string(peer)).Msg("participant left")
}
