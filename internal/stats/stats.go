// Package stats keeps per-user win/loss/draw counters for finished games.
package stats

import (
	"context"
	"time"

	"github.com/park285/tictactoe-live/internal/domain"
)

// Result is one finished game.
type Result struct {
	SessionID  string
	First      string
	Second     string
	Winner     string // "" on a draw
	Board      domain.Board
	StartedAt  time.Time
	FinishedAt time.Time
}

// ResultOf builds a Result from a finished session.
func ResultOf(s domain.Session) Result {
	r := Result{
		SessionID:  s.ID,
		First:      s.FirstPlayer.ID,
		Winner:     s.Winner,
		Board:      s.Board,
		StartedAt:  s.CreatedAt,
		FinishedAt: s.UpdatedAt,
	}
	if s.SecondPlayer != nil {
		r.Second = s.SecondPlayer.ID
	}
	return r
}

type Stats struct {
	UserID     string
	GamesTotal int
	GamesWin   int
	GamesLoose int
	GamesDraw  int
	UpdatedAt  time.Time
}

type Recorder interface {
	RecordResult(ctx context.Context, r Result) error
	Get(ctx context.Context, userID string) (Stats, error)
}

// Nop is used when no database is configured.
type Nop struct{}

func (Nop) RecordResult(context.Context, Result) error { return nil }

func (Nop) Get(_ context.Context, userID string) (Stats, error) {
	return Stats{UserID: userID}, nil
}
