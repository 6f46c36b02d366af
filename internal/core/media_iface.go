package core

import (
	"context"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/media"
	"github.com/pion/webrtc/v4"
)

// RemoteTrack is a received media track. *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// MediaConnection is one transport session toward a single remote participant.
type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()
	IsClosed() bool

	// AddLocalTrack attaches an outbound track; one sender per track kind.
	AddLocalTrack(track webrtc.TrackLocal) error
	// ReserveSender creates a sender for kind with no local media yet, so a
	// later ReplaceTrack for that kind has a target. No-op if one exists.
	ReserveSender(kind webrtc.RTPCodecType) error
	// ReplaceTrack swaps the outbound track of the sender for kind without renegotiation.
	// A nil track pauses that sender.
	ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error

	// CreateOffer creates and sets the local offer.
	CreateOffer() (webrtc.SessionDescription, error)
	ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyAnswer(answer webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error

	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback invoked when a new remote track arrives; ctx ends with the connection.
	OnTrack(func(ctx context.Context, track RemoteTrack))
	// OnStateChange reports transport connection state changes.
	OnStateChange(func(webrtc.PeerConnectionState))
}

// MediaConnectionFactory builds an unstarted connection toward peer.
type MediaConnectionFactory func(peer domain.UserID) (MediaConnection, error)

// MediaAcquirer is the capture provider. Failures wrap domain.ErrMediaAcquisition.
type MediaAcquirer interface {
	Acquire(ctx context.Context, kind domain.SourceKind) (*media.Source, error)
}
