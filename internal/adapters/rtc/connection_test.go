package rtc

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/media"
	"github.com/pion/webrtc/v4"
)

var _ core.MediaConnection = (*Connection)(nil)

func newTestConnection(t *testing.T, peer string) *Connection {
	t.Helper()
	api, err := NewAPI(NewLoggerFactory())
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	c, err := NewConnection(api, webrtc.Configuration{}, domain.UserID(peer))
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func newTrack(t *testing.T, kind webrtc.RTPCodecType, id string) *media.LocalTrack {
	t.Helper()
	tr, err := media.NewLocalTrack(kind, id, "s")
	if err != nil {
		t.Fatalf("NewLocalTrack: %v", err)
	}
	return tr
}

func TestConnection_OfferAnswerRoundTrip(t *testing.T) {
	a := newTestConnection(t, "a")
	b := newTestConnection(t, "b")

	if err := a.AddLocalTrack(newTrack(t, webrtc.RTPCodecTypeAudio, "a-audio")); err != nil {
		t.Fatalf("AddLocalTrack audio: %v", err)
	}
	if err := a.AddLocalTrack(newTrack(t, webrtc.RTPCodecTypeVideo, "a-video")); err != nil {
		t.Fatalf("AddLocalTrack video: %v", err)
	}
	if err := b.AddLocalTrack(newTrack(t, webrtc.RTPCodecTypeAudio, "b-audio")); err != nil {
		t.Fatalf("AddLocalTrack b audio: %v", err)
	}

	offer, err := a.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		t.Fatalf("unexpected offer: %#v", offer.Type)
	}

	answer, err := b.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		t.Fatalf("ApplyOfferAndCreateAnswer: %v", err)
	}
	if answer.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("answer type=%s", answer.Type)
	}
	if err := a.ApplyAnswer(answer); err != nil {
		t.Fatalf("ApplyAnswer: %v", err)
	}

	if got := a.pc.SignalingState(); got != webrtc.SignalingStateStable {
		t.Fatalf("a signaling state=%s, want stable", got)
	}
	if got := b.pc.SignalingState(); got != webrtc.SignalingStateStable {
		t.Fatalf("b signaling state=%s, want stable", got)
	}
}

func TestConnection_ReplaceTrackKeepsNegotiation(t *testing.T) {
	a := newTestConnection(t, "a")
	b := newTestConnection(t, "b")
	if err := a.AddLocalTrack(newTrack(t, webrtc.RTPCodecTypeVideo, "camera")); err != nil {
		t.Fatalf("AddLocalTrack: %v", err)
	}
	offer, err := a.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	answer, err := b.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := a.ApplyAnswer(answer); err != nil {
		t.Fatalf("ApplyAnswer: %v", err)
	}

	if err := a.ReplaceTrack(webrtc.RTPCodecTypeVideo, newTrack(t, webrtc.RTPCodecTypeVideo, "screen")); err != nil {
		t.Fatalf("ReplaceTrack: %v", err)
	}
	if err := a.ReplaceTrack(webrtc.RTPCodecTypeVideo, nil); err != nil {
		t.Fatalf("ReplaceTrack(nil): %v", err)
	}
	if got := a.pc.SignalingState(); got != webrtc.SignalingStateStable {
		t.Fatalf("signaling state=%s after replace, want stable", got)
	}
	if err := a.ReplaceTrack(webrtc.RTPCodecTypeAudio, newTrack(t, webrtc.RTPCodecTypeAudio, "mic")); !errors.Is(err, ErrNoSender) {
		t.Fatalf("err=%v, want %v", err, ErrNoSender)
	}
}

func TestConnection_DuplicateKindRejected(t *testing.T) {
	a := newTestConnection(t, "a")
	if err := a.AddLocalTrack(newTrack(t, webrtc.RTPCodecTypeAudio, "one")); err != nil {
		t.Fatalf("AddLocalTrack: %v", err)
	}
	if err := a.AddLocalTrack(newTrack(t, webrtc.RTPCodecTypeAudio, "two")); !errors.Is(err, ErrDuplicateKind) {
		t.Fatalf("err=%v, want %v", err, ErrDuplicateKind)
	}
}

func TestConnection_BadRemoteDescription(t *testing.T) {
	a := newTestConnection(t, "a")
	if _, err := a.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "garbage"}); err == nil {
		t.Fatalf("expected error for malformed sdp")
	}
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	a := newTestConnection(t, "a")
	a.Close()
	a.Close()
	if !a.IsClosed() {
		t.Fatalf("IsClosed=false after Close")
	}
	if err := a.Start(context.Background()); !errors.Is(err, ErrConnectionDone) {
		t.Fatalf("err=%v, want %v", err, ErrConnectionDone)
	}
}

func TestConnection_ReservedSenderAcceptsReplace(t *testing.T) {
	a := newTestConnection(t, "a")
	b := newTestConnection(t, "b")
	if err := a.AddLocalTrack(newTrack(t, webrtc.RTPCodecTypeVideo, "screen")); err != nil {
		t.Fatalf("AddLocalTrack: %v", err)
	}
	if err := a.ReserveSender(webrtc.RTPCodecTypeAudio); err != nil {
		t.Fatalf("ReserveSender: %v", err)
	}
	if err := a.ReserveSender(webrtc.RTPCodecTypeAudio); err != nil {
		t.Fatalf("second ReserveSender: %v", err)
	}
	if err := a.ReserveSender(webrtc.RTPCodecTypeVideo); err != nil {
		t.Fatalf("ReserveSender on existing kind: %v", err)
	}

	offer, err := a.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if !strings.Contains(offer.SDP, "m=audio") {
		t.Fatalf("offer has no audio section")
	}
	answer, err := b.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := a.ApplyAnswer(answer); err != nil {
		t.Fatalf("ApplyAnswer: %v", err)
	}

	if err := a.ReplaceTrack(webrtc.RTPCodecTypeAudio, newTrack(t, webrtc.RTPCodecTypeAudio, "mic")); err != nil {
		t.Fatalf("ReplaceTrack on reserved sender: %v", err)
	}
	if got := a.pc.SignalingState(); got != webrtc.SignalingStateStable {
		t.Fatalf("signaling state=%s after replace, want stable", got)
	}
}

func TestConnection_OfferIsAppliedLocalDescription(t *testing.T) {
	a := newTestConnection(t, "a")
	if err := a.AddLocalTrack(newTrack(t, webrtc.RTPCodecTypeAudio, "mic")); err != nil {
		t.Fatalf("AddLocalTrack: %v", err)
	}
	offer, err := a.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	ld := a.pc.LocalDescription()
	if ld == nil || ld.SDP != offer.SDP || ld.Type != webrtc.SDPTypeOffer {
		t.Fatalf("offer differs from applied local description")
	}
}
