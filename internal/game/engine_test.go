package game

import (
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/park285/tictactoe-live/internal/domain"
)

func activeSession() domain.Session {
	s := domain.NewSession("s1", "g", domain.Principal{ID: "A", Username: "alice"}, domain.MarkerX, time.Unix(0, 0))
	s.SecondPlayer = &domain.Participant{ID: "B", Username: "bob", Marker: domain.MarkerO}
	s.Status = domain.StatusActive
	return s
}

func mustMove(t *testing.T, s domain.Session, who string, cell int) (domain.Session, Outcome) {
	t.Helper()
	next, out, err := ApplyMove(s, who, cell)
	if err != nil {
		t.Fatalf("move %s@%d: %v", who, cell, err)
	}
	return next, out
}

func TestExampleColumnWin(t *testing.T) {
	s := activeSession()
	var out Outcome
	for _, mv := range []struct {
		who  string
		cell int
	}{{"A", 0}, {"B", 1}, {"A", 3}, {"B", 4}, {"A", 6}} {
		s, out = mustMove(t, s, mv.who, mv.cell)
	}
	if out.Kind != Win || out.Winner != "A" || out.Line != [3]int{0, 3, 6} {
		t.Fatalf("expected WIN(A) on [0,3,6], got %+v", out)
	}
	if s.Status != domain.StatusFinished || s.Winner != "A" {
		t.Fatalf("session not finished: %+v", s)
	}
	if _, _, err := ApplyMove(s, "B", 8); !errors.Is(err, domain.ErrGameFinished) {
		t.Fatalf("expected GameFinished, got %v", err)
	}
}

func TestEveryWinLine(t *testing.T) {
	for _, line := range WinLines() {
		var spare []int
		for c := 0; c < domain.BoardSize && len(spare) < 2; c++ {
			if c != line[0] && c != line[1] && c != line[2] {
				spare = append(spare, c)
			}
		}
		s := activeSession()
		s, _ = mustMove(t, s, "A", line[0])
		s, _ = mustMove(t, s, "B", spare[0])
		s, _ = mustMove(t, s, "A", line[1])
		s, _ = mustMove(t, s, "B", spare[1])
		s, out := mustMove(t, s, "A", line[2])
		if out.Kind != Win || out.Winner != "A" {
			t.Fatalf("line %v: expected WIN(A), got %+v", line, out)
		}
		for c := 0; c < domain.BoardSize; c++ {
			for _, who := range []string{"A", "B"} {
				if _, _, err := ApplyMove(s, who, c); !errors.Is(err, domain.ErrGameFinished) {
					t.Fatalf("line %v: move after win accepted (%s@%d): %v", line, who, c, err)
				}
			}
		}
	}
}

func TestRejectionOrder(t *testing.T) {
	s := activeSession()
	s, _ = mustMove(t, s, "A", 4)

	if _, _, err := ApplyMove(s, "C", 0); !errors.Is(err, domain.ErrNotAParticipant) {
		t.Fatalf("stranger: %v", err)
	}
	if _, _, err := ApplyMove(s, "A", 99); !errors.Is(err, domain.ErrOutOfTurn) {
		t.Fatalf("turn is checked before range: %v", err)
	}
	if _, _, err := ApplyMove(s, "B", 9); !errors.Is(err, domain.ErrInvalidCell) {
		t.Fatalf("range: %v", err)
	}
	if _, _, err := ApplyMove(s, "B", -1); !errors.Is(err, domain.ErrInvalidCell) {
		t.Fatalf("negative: %v", err)
	}
}

func TestWaitingSessionRejectsMoves(t *testing.T) {
	s := domain.NewSession("s1", "g", domain.Principal{ID: "A"}, domain.MarkerX, time.Unix(0, 0))
	if _, _, err := ApplyMove(s, "A", 0); !errors.Is(err, domain.ErrOutOfTurn) {
		t.Fatalf("expected OutOfTurn, got %v", err)
	}
}

func TestCreatorWithSecondMarkerMovesSecond(t *testing.T) {
	s := domain.NewSession("s1", "g", domain.Principal{ID: "A"}, domain.MarkerO, time.Unix(0, 0))
	s.SecondPlayer = &domain.Participant{ID: "B", Marker: domain.MarkerX}
	s.Status = domain.StatusActive
	if _, _, err := ApplyMove(s, "A", 0); !errors.Is(err, domain.ErrOutOfTurn) {
		t.Fatalf("creator holding O must wait: %v", err)
	}
	if _, _, err := ApplyMove(s, "B", 0); err != nil {
		t.Fatalf("X moves first: %v", err)
	}
}

func TestPropertyOccupiedCellLeavesBoardUnchanged(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := activeSession()
		order := rapid.Permutation([]int{0, 1, 2, 3, 4, 5, 6, 7, 8}).Draw(t, "order")
		n := rapid.IntRange(1, 8).Draw(t, "moves")
		who := []string{"A", "B"}
		played := 0
		for _, c := range order[:n] {
			next, out, err := ApplyMove(s, who[played%2], c)
			if err != nil {
				t.Fatalf("unexpected rejection: %v", err)
			}
			s = next
			played++
			if out.Finished() {
				break
			}
		}
		if s.Status == domain.StatusFinished {
			return
		}
		taken := order[rapid.IntRange(0, played-1).Draw(t, "taken")]
		before := s.Board
		next, _, err := ApplyMove(s, who[played%2], taken)
		if !errors.Is(err, domain.ErrCellOccupied) {
			t.Fatalf("expected CellOccupied for %d, got %v", taken, err)
		}
		if next.Board != before || s.Board != before {
			t.Fatalf("board changed on rejected move")
		}
	})
}

func TestPropertyNineMovesFinish(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := activeSession()
		order := rapid.Permutation([]int{0, 1, 2, 3, 4, 5, 6, 7, 8}).Draw(t, "order")
		who := []string{"A", "B"}
		var last Outcome
		for i, c := range order {
			next, out, err := ApplyMove(s, who[i%2], c)
			if s.Status == domain.StatusFinished {
				if !errors.Is(err, domain.ErrGameFinished) {
					t.Fatalf("move after finish accepted: %v", err)
				}
				continue
			}
			if err != nil {
				t.Fatalf("move %d rejected: %v", i, err)
			}
			s, last = next, out
		}
		if s.Status != domain.StatusFinished {
			t.Fatalf("game not finished after nine moves: %+v", s)
		}
		if last.Kind == Draw && !Full(s.Board) {
			t.Fatalf("draw on a non-full board")
		}
		if last.Kind == Continue {
			t.Fatalf("last accepted move left game running")
		}
	})
}
