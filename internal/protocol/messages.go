// Package protocol defines the relay signaling messages as a closed set of
// variants and their JSON wire form: {"type": ..., "payload": {...}}.
package protocol

import (
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

type Kind string

const (
	KindJoin                 Kind = "join"
	KindExistingParticipants Kind = "existing_participants"
	KindNewParticipant       Kind = "new_participant"
	KindOffer                Kind = "offer"
	KindAnswer               Kind = "answer"
	KindICECandidate         Kind = "ice_candidate"
	KindParticipantLeft      Kind = "participant_left"
)

// Message is implemented only by the types in this package.
type Message interface {
	Kind() Kind
	isMessage()
}

// Join announces the local user to the relay.
type Join struct {
	RoomID domain.RoomID
	UserID domain.UserID
}

// ExistingParticipants lists everyone already in the room; the joiner initiates toward each.
type ExistingParticipants struct {
	UserIDs []domain.UserID
}

// NewParticipant announces a newcomer, who will send us an offer.
type NewParticipant struct {
	UserID domain.UserID
}

// Offer carries an SDP offer. Peer is the remote side: target when sent, source when received.
type Offer struct {
	Peer domain.UserID
	SDP  webrtc.SessionDescription
}

type Answer struct {
	Peer domain.UserID
	SDP  webrtc.SessionDescription
}

type ICECandidate struct {
	Peer      domain.UserID
	Candidate webrtc.ICECandidateInit
}

type ParticipantLeft struct {
	UserID domain.UserID
}

func (Join) Kind() Kind                 { return KindJoin }
func (ExistingParticipants) Kind() Kind { return KindExistingParticipants }
func (NewParticipant) Kind() Kind       { return KindNewParticipant }
func (Offer) Kind() Kind                { return KindOffer }
func (Answer) Kind() Kind               { return KindAnswer }
func (ICECandidate) Kind() Kind         { return KindICECandidate }
func (ParticipantLeft) Kind() Kind      { return KindParticipantLeft }

func (Join) isMessage()                 {}
func (ExistingParticipants) isMessage() {}
func (NewParticipant) isMessage()       {}
func (Offer) isMessage()                {}
func (Answer) isMessage()               {}
func (ICECandidate) isMessage()         {}
func (ParticipantLeft) isMessage()      {}
