package media

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
)

var ErrTrackStopped = errors.New("track stopped")

type TrackState int32

const (
	TrackStateLive TrackState = iota
	TrackStateDisabled
	TrackStateStopped
)

// LocalTrack is one outbound track of a Source.
// It can be handed to any number of RTP senders; disabling it drops samples
// without touching the senders or the negotiated session.
type LocalTrack struct {
	*webrtc.TrackLocalStaticSample
	state atomic.Int32 // Zero by default (TrackStateLive)
}

// CodecFor returns the capability every local track of the given kind uses.
func CodecFor(kind webrtc.RTPCodecType) (webrtc.RTPCodecCapability, error) {
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, nil
	case webrtc.RTPCodecTypeVideo:
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, nil
	default:
		return webrtc.RTPCodecCapability{}, fmt.Errorf("unsupported track kind %q", kind.String())
	}
}

func NewLocalTrack(kind webrtc.RTPCodecType, id, streamID string) (*LocalTrack, error) {
	codec, err := CodecFor(kind)
	if err != nil {
		return nil, err
	}
	t, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("new %s track: %w", kind.String(), err)
	}
	return &LocalTrack{TrackLocalStaticSample: t}, nil
}

func (t *LocalTrack) State() TrackState {
	return TrackState(t.state.Load())
}

func (t *LocalTrack) Enabled() bool {
	return t.State() == TrackStateLive
}

// SetEnabled flips between live and disabled. A stopped track stays stopped.
func (t *LocalTrack) SetEnabled(enabled bool) {
	from, to := TrackStateDisabled, TrackStateLive
	if !enabled {
		from, to = TrackStateLive, TrackStateDisabled
	}
	t.state.CompareAndSwap(int32(from), int32(to))
}

func (t *LocalTrack) Stop() {
	t.state.Store(int32(TrackStateStopped))
}

func (t *LocalTrack) Stopped() bool {
	return t.State() == TrackStateStopped
}

// WriteSample forwards to the bound senders when live and drops otherwise.
func (t *LocalTrack) WriteSample(s pmedia.Sample) error {
	switch t.State() {
	case TrackStateStopped:
		return ErrTrackStopped
	case TrackStateDisabled:
		return nil
	}
	return t.TrackLocalStaticSample.WriteSample(s)
}
