package session

import (
	"context"
	"fmt"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/media"
	"github.com/pion/webrtc/v4"
)

// SetMuted disables or re-enables outbound audio. The flag survives source swaps.
func (m *Manager) SetMuted(muted bool) {
	m.mu.Lock()
	m.muted = muted
	if m.source != nil {
		m.source.SetEnabled(webrtc.RTPCodecTypeAudio, !muted)
	}
	m.mu.Unlock()
	m.log().Info().Bool("muted", muted).Msg("audio toggled")
}

// SetVideoEnabled disables or re-enables outbound video.
func (m *Manager) SetVideoEnabled(enabled bool) {
	m.mu.Lock()
	m.videoOff = !enabled
	if m.source != nil {
		m.source.SetEnabled(webrtc.RTPCodecTypeVideo, enabled)
	}
	m.mu.Unlock()
	m.log().Info().Bool("enabled", enabled).Msg("video toggled")
}

// applyFlagsLocked brings src in line with the mute and video flags.
// m.mu must be held.
func (m *Manager) applyFlagsLocked(src *media.Source) {
	src.SetEnabled(webrtc.RTPCodecTypeAudio, !m.muted)
	src.SetEnabled(webrtc.RTPCodecTypeVideo, !m.videoOff)
}

func (m *Manager) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

func (m *Manager) VideoEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.videoOff
}

// Source returns the current local source, nil outside a membership.
func (m *Manager) Source() *media.Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.source
}

func (m *Manager) Sharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sharing
}

// SwapMediaSource replaces the outbound tracks of every link with those of src
// without renegotiating. A kind src lacks is sent as nothing. The previous
// source is stopped.
func (m *Manager) SwapMediaSource(src *media.Source) error {
	if src == nil {
		return fmt.Errorf("%w: nil source", domain.ErrMediaAcquisition)
	}
	m.wireMu.Lock()
	defer m.wireMu.Unlock()
	m.mu.Lock()
	sharing := m.sharing
	m.mu.Unlock()
	return m.swapLocked(src, sharing)
}

// swapLocked publishes src and the sharing flag together. m.wireMu must be held.
func (m *Manager) swapLocked(src *media.Source, sharing bool) error {
	m.mu.Lock()
	if m.phase != domain.PhaseActive {
		m.mu.Unlock()
		return domain.ErrSessionClosed
	}
	old := m.source
	m.applyFlagsLocked(src)
	m.source = src
	m.sharing = sharing
	links := make([]*PeerLink, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	m.mu.Unlock()

	for _, link := range links {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			var next webrtc.TrackLocal
			if t := src.Track(kind); t != nil {
				next = t
			}
			if err := link.conn.ReplaceTrack(kind, next); err != nil {
				m.log().Warn().Err(err).Str("peer", string(link.remote)).Str("kind", kind.String()).Msg("replace track failed")
			}
		}
	}

	if old != nil && old != src {
		old.Stop()
	}
	m.log().Info().Str("source", string(src.Kind())).Bool("sharing", sharing).Int("links", len(links)).Msg("media source swapped")
	return nil
}

// StartScreenShare swaps the outbound source for a screen capture.
// On acquisition failure nothing changes.
func (m *Manager) StartScreenShare(ctx context.Context) error {
	if m.Sharing() {
		return nil
	}
	src, err := m.acquirer.Acquire(ctx, domain.SourceScreen)
	if err != nil {
		return fmt.Errorf("screen share: %w", err)
	}

	m.wireMu.Lock()
	defer m.wireMu.Unlock()
	if m.Sharing() {
		src.Stop()
		return nil
	}
	if err := m.swapLocked(src, true); err != nil {
		src.Stop()
		return err
	}
	return nil
}

// StopScreenShare returns to the camera. If the camera cannot be acquired the
// screen tracks stay in place and ErrReacquireFailed is returned; the call may be retried.
func (m *Manager) StopScreenShare(ctx context.Context) error {
	if !m.Sharing() {
		return domain.ErrNotSharing
	}
	cam, err := m.acquirer.Acquire(ctx, domain.SourceCamera)
	if err != nil {
		m.log().Warn().Err(err).Msg("camera reacquisition failed, keeping screen")
		return fmt.Errorf("%w: %w", domain.ErrReacquireFailed, err)
	}

	m.wireMu.Lock()
	defer m.wireMu.Unlock()
	if !m.Sharing() {
		cam.Stop()
		return domain.ErrNotSharing
	}
	if err := m.swapLocked(cam, false); err != nil {
		cam.Stop()
		return err
	}
	return nil
}
