// Package wirepresenter converts domain values into wire frames.
package wirepresenter

import (
	"time"

	"github.com/park285/tictactoe-live/internal/domain"
	"github.com/park285/tictactoe-live/internal/game"
	"github.com/park285/tictactoe-live/pkg/wire"
)

func ToPlayer(p domain.Participant) wire.Player {
	return wire.Player{ID: p.ID, Username: p.Username, Marker: string(p.Marker)}
}

func PrincipalPlayer(p domain.Principal) wire.Player {
	return wire.Player{ID: p.ID, Username: p.Username}
}

func board(b domain.Board) []string {
	out := make([]string, len(b))
	for i, c := range b {
		out[i] = string(c)
	}
	return out
}

func winner(s domain.Session) *string {
	if s.Winner == "" {
		return nil
	}
	w := s.Winner
	return &w
}

func ToSnapshot(s domain.Session) wire.Snapshot {
	out := wire.Snapshot{
		ID:                s.ID,
		Name:              s.Name,
		FirstPlayer:       ToPlayer(s.FirstPlayer),
		FirstPlayerMarker: string(s.FirstPlayer.Marker),
		IsActive:          s.Status == domain.StatusActive,
		Status:            string(s.Status),
		Board:             board(s.Board),
		Turn:              string(s.Turn),
		Winner:            winner(s),
		CreatedAt:         s.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:         s.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if s.SecondPlayer != nil {
		p := ToPlayer(*s.SecondPlayer)
		out.SecondPlayer = &p
	}
	return out
}

func ToSummary(s domain.Session) wire.Summary {
	return wire.Summary{
		ID:            s.ID,
		Name:          s.Name,
		CreatorName:   s.FirstPlayer.Username,
		CreatorMarker: string(s.FirstPlayer.Marker),
		IsActive:      s.Status == domain.StatusActive,
	}
}

func ToSummaries(list []domain.Session) []wire.Summary {
	out := make([]wire.Summary, 0, len(list))
	for _, s := range list {
		out = append(out, ToSummary(s))
	}
	return out
}

// ToGameState renders s; out carries the completed line of a win, if any.
func ToGameState(s domain.Session, out game.Outcome) wire.GameState {
	gs := wire.GameState{
		Type:      wire.TypeGameState,
		SessionID: s.ID,
		Status:    string(s.Status),
		Board:     board(s.Board),
		Turn:      string(s.Turn),
		Moves:     s.Board.Moves(),
		Winner:    winner(s),
		Finished:  s.Status == domain.StatusFinished,
		Players:   []wire.Player{ToPlayer(s.FirstPlayer)},
	}
	if s.SecondPlayer != nil {
		gs.Players = append(gs.Players, ToPlayer(*s.SecondPlayer))
	}
	if out.Kind == game.Win {
		gs.Line = out.Line[:]
	} else if s.Winner != "" {
		if p, ok := s.Participant(s.Winner); ok {
			if line, won := game.WinningLine(s.Board, p.Marker); won {
				gs.Line = line[:]
			}
		}
	}
	return gs
}

func ToStats(userID string, total, win, loose, draw int) wire.Stats {
	return wire.Stats{UserID: userID, GamesTotal: total, GamesWin: win, GamesLoose: loose, GamesDraw: draw}
}
