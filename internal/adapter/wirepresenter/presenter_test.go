package wirepresenter

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/park285/tictactoe-live/internal/domain"
	"github.com/park285/tictactoe-live/internal/game"
)

func TestSnapshotMatchesStoredShape(t *testing.T) {
	s := domain.NewSession("s1", "g", domain.Principal{ID: "a", Username: "alice"}, domain.MarkerX, time.Unix(100, 0))
	stored, _ := json.Marshal(s)
	sent, _ := json.Marshal(ToSnapshot(s))

	var a, b map[string]any
	_ = json.Unmarshal(stored, &a)
	_ = json.Unmarshal(sent, &b)
	for _, k := range []string{"id", "name", "firstPlayerMarker", "isActive", "status", "turn"} {
		if a[k] != b[k] {
			t.Fatalf("field %s differs: %v vs %v", k, a[k], b[k])
		}
	}
	if b["secondPlayer"] != nil || b["winner"] != nil {
		t.Fatalf("expected nulls: %s", sent)
	}
}

func TestGameStateCarriesWinLine(t *testing.T) {
	s := domain.NewSession("s1", "g", domain.Principal{ID: "A"}, domain.MarkerX, time.Unix(0, 0))
	s.SecondPlayer = &domain.Participant{ID: "B", Marker: domain.MarkerO}
	s.Status = domain.StatusActive
	var out game.Outcome
	for i, c := range []int{2, 0, 4, 1, 6} {
		who := "A"
		if i%2 == 1 {
			who = "B"
		}
		s, out, _ = game.ApplyMove(s, who, c)
	}
	gs := ToGameState(s, out)
	if !gs.Finished || gs.Winner == nil || *gs.Winner != "A" || gs.Moves != 5 {
		t.Fatalf("unexpected state %+v", gs)
	}
	raw, _ := json.Marshal(gs)
	if !strings.Contains(string(raw), `"line":[2,4,6]`) {
		t.Fatalf("line missing: %s", raw)
	}
	// line is recovered from the board when the outcome is not at hand
	if again := ToGameState(s, game.Outcome{}); len(again.Line) != 3 {
		t.Fatalf("line not recovered: %+v", again)
	}
}
