package domain

// RoomID is a room code minted by the directory service.
type RoomID string

// Phase is the lifecycle of one room membership:
// Idle -> Joining -> Active -> Leaving -> Closed.
// A Join whose media acquisition fails returns from Joining to Idle and may be
// retried. Every other transition moves forward.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseJoining
	PhaseActive
	PhaseLeaving
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseJoining:
		return "joining"
	case PhaseActive:
		return "active"
	case PhaseLeaving:
		return "leaving"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}
