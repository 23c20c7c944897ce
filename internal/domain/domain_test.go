package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestParseMarker(t *testing.T) {
	cases := map[string]Marker{"": MarkerX, "x": MarkerX, "FIRST": MarkerX, "O": MarkerO, " second ": MarkerO}
	for in, want := range cases {
		got, err := ParseMarker(in)
		if err != nil || got != want {
			t.Fatalf("ParseMarker(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseMarker("z"); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected BadRequest, got %v", err)
	}
	if MarkerX.Other() != MarkerO || MarkerO.Other() != MarkerX {
		t.Fatalf("Other is not an involution")
	}
}

func TestSnapshotJSON(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewSession("s1", "", Principal{ID: "a", Username: "alice"}, MarkerO, now)
	if s.Name != "alice's game" {
		t.Fatalf("default name: %q", s.Name)
	}
	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["secondPlayer"] != nil {
		t.Fatalf("secondPlayer should be null, got %v", m["secondPlayer"])
	}
	if m["isActive"] != false || m["firstPlayerMarker"] != "O" || m["status"] != "WAITING" {
		t.Fatalf("unexpected snapshot: %s", raw)
	}

	s.SecondPlayer = &Participant{ID: "b", Username: "bob", Marker: MarkerX}
	s.Status = StatusActive
	raw, _ = json.Marshal(s)
	var back Session
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.IsActive || back.SecondPlayer == nil || back.SecondPlayer.ID != "b" {
		t.Fatalf("round trip lost fields: %+v", back)
	}
}

func TestErrorCodes(t *testing.T) {
	wrapped := fmt.Errorf("join: %w", ErrSelfJoin)
	if CodeOf(wrapped) != CodeSelfJoin {
		t.Fatalf("CodeOf = %s", CodeOf(wrapped))
	}
	if CodeOf(errors.New("boom")) != CodeOperationFailed {
		t.Fatalf("foreign errors map to OperationFailed")
	}
	outage := Wrap(CodeOperationFailed, Wrap(CodeStoreUnavailable, errors.New("dial tcp")))
	if !errors.Is(outage, ErrStoreUnavailable) || !IsBackendFault(outage) {
		t.Fatalf("store outage should stay visible in the chain: %v", outage)
	}
	if IsClientError(CodeStoreUnavailable) || !IsClientError(CodeCellOccupied) {
		t.Fatalf("client/backend classification broken")
	}
}

func TestSessionParticipants(t *testing.T) {
	s := NewSession("s1", "g", Principal{ID: "a", Username: "alice"}, MarkerX, time.Now())
	if _, ok := s.Participant("b"); ok {
		t.Fatalf("b is not seated yet")
	}
	s.SecondPlayer = &Participant{ID: "b", Username: "bob", Marker: MarkerO}
	p, ok := s.ParticipantByMarker(MarkerO)
	if !ok || p.ID != "b" {
		t.Fatalf("ParticipantByMarker(O) = %+v, %v", p, ok)
	}
	if got := s.Participants(); len(got) != 2 || got[0] != "a" {
		t.Fatalf("Participants = %v", got)
	}
}
