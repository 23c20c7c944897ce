// Package game holds the tic-tac-toe rules. It is pure: no I/O, no clock.
package game

import "github.com/park285/tictactoe-live/internal/domain"

type OutcomeKind string

const (
	Continue OutcomeKind = "CONTINUE"
	Win      OutcomeKind = "WIN"
	Draw     OutcomeKind = "DRAW"
)

// Outcome describes the result of an accepted move.
type Outcome struct {
	Kind   OutcomeKind
	Winner string // participant id, set on Win
	Line   [3]int // completed line, set on Win
}

func (o Outcome) Finished() bool { return o.Kind == Win || o.Kind == Draw }

var winLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// WinLines returns the eight index triples that win the game.
func WinLines() [8][3]int { return winLines }

// WinningLine reports the first line fully held by m.
func WinningLine(b domain.Board, m domain.Marker) ([3]int, bool) {
	if m == domain.Empty {
		return [3]int{}, false
	}
	for _, l := range winLines {
		if b[l[0]] == m && b[l[1]] == m && b[l[2]] == m {
			return l, true
		}
	}
	return [3]int{}, false
}

// Full reports whether no empty cell remains.
func Full(b domain.Board) bool { return b.Moves() == domain.BoardSize }

// ApplyMove validates and applies a move, returning the next session value.
// The input is never modified. Checks run in order: finished, participant,
// turn, range, occupancy.
func ApplyMove(s domain.Session, participantID string, cell int) (domain.Session, Outcome, error) {
	if s.Status == domain.StatusFinished {
		return s, Outcome{}, domain.ErrGameFinished
	}
	p, ok := s.Participant(participantID)
	if !ok {
		return s, Outcome{}, domain.ErrNotAParticipant
	}
	// WAITING: the opponent has not been seated yet.
	if s.Status != domain.StatusActive || p.Marker != s.Turn {
		return s, Outcome{}, domain.ErrOutOfTurn
	}
	if cell < 0 || cell >= domain.BoardSize {
		return s, Outcome{}, domain.ErrInvalidCell
	}
	if s.Board[cell] != domain.Empty {
		return s, Outcome{}, domain.ErrCellOccupied
	}

	next := s
	next.Board[cell] = p.Marker
	if line, won := WinningLine(next.Board, p.Marker); won {
		next.Status = domain.StatusFinished
		next.Winner = p.ID
		return next, Outcome{Kind: Win, Winner: p.ID, Line: line}, nil
	}
	if Full(next.Board) {
		next.Status = domain.StatusFinished
		return next, Outcome{Kind: Draw}, nil
	}
	next.Turn = s.Turn.Other()
	return next, Outcome{Kind: Continue}, nil
}
