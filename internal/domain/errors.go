package domain

import "errors"

var (
	// ErrMediaAcquisition is fatal to join and to a source swap attempt.
	ErrMediaAcquisition = errors.New("media acquisition failed")
	// ErrReacquireFailed is returned when the camera cannot be restored after
	// a screen share; the session keeps the last good outbound tracks.
	ErrReacquireFailed = errors.New("camera reacquisition failed")
	ErrNotSharing      = errors.New("screen share not active")

	// ErrChannel reports signaling transport loss. It is session-fatal.
	ErrChannel        = errors.New("signaling channel lost")
	ErrChannelBusy    = errors.New("signaling channel already connecting or open")
	ErrChannelNotOpen = errors.New("signaling channel not open")

	ErrNegotiation       = errors.New("negotiation failed")
	ErrProtocolViolation = errors.New("protocol violation")

	ErrAlreadyJoined = errors.New("session already joined")
	ErrSessionClosed = errors.New("session closed")
)
