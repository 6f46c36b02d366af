package domain

// Role tells which side of a pair sends the offer.
// The newcomer initiates toward everyone listed in existing_participants;
// those already in the room wait for its offer.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// NegotiationState of one PeerLink.
type NegotiationState int32

const (
	StateCreated NegotiationState = iota
	StateOfferPending
	StateOfferReceived
	StateAnswerPending
	StateAnswerApplied
	StateConnected
	StateFailed
	StateClosed
)

func (s NegotiationState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateOfferPending:
		return "offer_pending"
	case StateOfferReceived:
		return "offer_received"
	case StateAnswerPending:
		return "answer_pending"
	case StateAnswerApplied:
		return "answer_applied"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s NegotiationState) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

// SourceKind names what a local media source captures.
type SourceKind string

const (
	SourceCamera SourceKind = "camera"
	SourceScreen SourceKind = "screen"
)
