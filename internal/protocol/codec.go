package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

var ErrUnknownKind = errors.New("unknown message type")

type envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type joinPayload struct {
	RoomID domain.RoomID `json:"roomId"`
	UserID domain.UserID `json:"userId"`
}

type participantsPayload struct {
	UserIDs []domain.UserID `json:"userIds"`
}

type userPayload struct {
	UserID domain.UserID `json:"userId"`
}

// Outbound messages name the target in remoteUserId, inbound ones name the
// sender in userId.
type sdpPayload struct {
	RemoteUserID domain.UserID             `json:"remoteUserId,omitempty"`
	UserID       domain.UserID             `json:"userId,omitempty"`
	SDP          *webrtc.SessionDescription `json:"sdp"`
}

type candidatePayload struct {
	RemoteUserID domain.UserID            `json:"remoteUserId,omitempty"`
	UserID       domain.UserID            `json:"userId,omitempty"`
	Candidate    *webrtc.ICECandidateInit `json:"candidate"`
}

// Encode renders m as sent by a client to the relay.
func Encode(m Message) ([]byte, error) {
	return encode(m, false)
}

// EncodeInbound renders m as the relay delivers it to a client.
func EncodeInbound(m Message) ([]byte, error) {
	return encode(m, true)
}

func encode(m Message, inbound bool) ([]byte, error) {
	var payload any
	switch msg := m.(type) {
	case Join:
		payload = joinPayload{RoomID: msg.RoomID, UserID: msg.UserID}
	case ExistingParticipants:
		ids := msg.UserIDs
		if ids == nil {
			ids = []domain.UserID{}
		}
		payload = participantsPayload{UserIDs: ids}
	case NewParticipant:
		payload = userPayload{UserID: msg.UserID}
	case ParticipantLeft:
		payload = userPayload{UserID: msg.UserID}
	case Offer:
		p := sdpPayload{SDP: &msg.SDP}
		setPeer(&p.RemoteUserID, &p.UserID, msg.Peer, inbound)
		payload = p
	case Answer:
		p := sdpPayload{SDP: &msg.SDP}
		setPeer(&p.RemoteUserID, &p.UserID, msg.Peer, inbound)
		payload = p
	case ICECandidate:
		p := candidatePayload{Candidate: &msg.Candidate}
		setPeer(&p.RemoteUserID, &p.UserID, msg.Peer, inbound)
		payload = p
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, m)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", m.Kind(), err)
	}
	return json.Marshal(envelope{Type: m.Kind(), Payload: raw})
}

func setPeer(remote, user *domain.UserID, peer domain.UserID, inbound bool) {
	if inbound {
		*user = peer
	} else {
		*remote = peer
	}
}

// Decode parses a frame delivered by the relay.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case KindJoin:
		var p joinPayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if p.RoomID == "" || p.UserID == "" {
			return nil, fmt.Errorf("join message missing roomId/userId")
		}
		return Join{RoomID: p.RoomID, UserID: p.UserID}, nil

	case KindExistingParticipants:
		var p participantsPayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		return ExistingParticipants{UserIDs: p.UserIDs}, nil

	case KindNewParticipant, KindParticipantLeft:
		var p userPayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if p.UserID == "" {
			return nil, fmt.Errorf("%s message missing userId", env.Type)
		}
		if env.Type == KindNewParticipant {
			return NewParticipant{UserID: p.UserID}, nil
		}
		return ParticipantLeft{UserID: p.UserID}, nil

	case KindOffer, KindAnswer:
		var p sdpPayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		peer := peerOf(p.UserID, p.RemoteUserID)
		if peer == "" {
			return nil, fmt.Errorf("%s message missing userId", env.Type)
		}
		if p.SDP == nil || p.SDP.SDP == "" {
			return nil, fmt.Errorf("%s message missing sdp", env.Type)
		}
		if env.Type == KindOffer {
			if p.SDP.Type != webrtc.SDPTypeOffer {
				return nil, fmt.Errorf("offer message has sdp.type=%q", p.SDP.Type.String())
			}
			return Offer{Peer: peer, SDP: *p.SDP}, nil
		}
		if p.SDP.Type != webrtc.SDPTypeAnswer {
			return nil, fmt.Errorf("answer message has sdp.type=%q", p.SDP.Type.String())
		}
		return Answer{Peer: peer, SDP: *p.SDP}, nil

	case KindICECandidate:
		var p candidatePayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		peer := peerOf(p.UserID, p.RemoteUserID)
		if peer == "" {
			return nil, fmt.Errorf("ice_candidate message missing userId")
		}
		if p.Candidate == nil || p.Candidate.Candidate == "" {
			return nil, fmt.Errorf("ice_candidate message missing candidate")
		}
		return ICECandidate{Peer: peer, Candidate: *p.Candidate}, nil

	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, env.Type)
	}
}

func unmarshalPayload(env envelope, v any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s message missing payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return nil
}

// peerOf prefers the inbound sender field and falls back to the outbound target field.
func peerOf(userID, remoteUserID domain.UserID) domain.UserID {
	if userID != "" {
		return userID
	}
	return remoteUserID
}
