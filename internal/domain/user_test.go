package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestNewUserID_ReplacesSpacesAndAddsSuffix(t *testing.T) {
	id, err := NewUserID("  Ada  Lovelace ")
	if err != nil {
		t.Fatalf("NewUserID: %v", err)
	}
	s := string(id)
	if !strings.HasPrefix(s, "Ada_Lovelace_") {
		t.Fatalf("id=%q, want prefix %q", s, "Ada_Lovelace_")
	}
	if got := len(s) - len("Ada_Lovelace_"); got != userSuffixLen {
		t.Fatalf("suffix len=%d, want %d", got, userSuffixLen)
	}
}

func TestNewUserID_Unique(t *testing.T) {
	a, _ := NewUserID("bob")
	b, _ := NewUserID("bob")
	if a == b {
		t.Fatalf("expected distinct ids, got %q twice", a)
	}
}

func TestNewUserID_Validation(t *testing.T) {
	if _, err := NewUserID("   "); !errors.Is(err, ErrUsernameEmpty) {
		t.Fatalf("err=%v, want %v", err, ErrUsernameEmpty)
	}
	if _, err := NewUserID(strings.Repeat("x", MaxUsernameLen+1)); !errors.Is(err, ErrUsernameTooLong) {
		t.Fatalf("err=%v, want %v", err, ErrUsernameTooLong)
	}
}

func TestNegotiationState_Terminal(t *testing.T) {
	for _, s := range []NegotiationState{StateCreated, StateOfferPending, StateOfferReceived, StateAnswerPending, StateAnswerApplied, StateConnected} {
		if s.Terminal() {
			t.Fatalf("%s reported terminal", s)
		}
	}
	if !StateFailed.Terminal() || !StateClosed.Terminal() {
		t.Fatalf("failed/closed must be terminal")
	}
}
