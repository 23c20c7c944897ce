package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Marker is the symbol a participant places on the board.
type Marker string

const (
	MarkerX Marker = "X" // FIRST, always moves first
	MarkerO Marker = "O" // SECOND
)

// Empty marks an unoccupied cell.
const Empty Marker = ""

// BoardSize is the number of cells in a 3x3 board, row-major.
const BoardSize = 9

func (m Marker) Valid() bool { return m == MarkerX || m == MarkerO }

// Other returns the opposing marker.
func (m Marker) Other() Marker {
	if m == MarkerX {
		return MarkerO
	}
	return MarkerX
}

// ParseMarker accepts "X"/"O" as well as "first"/"second", case-insensitive.
// An empty string defaults to X.
func ParseMarker(s string) (Marker, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "x", "first":
		return MarkerX, nil
	case "o", "second":
		return MarkerO, nil
	}
	return Empty, fmt.Errorf("%w: marker %q", ErrBadRequest, s)
}

// Board cells hold Empty, MarkerX or MarkerO.
type Board [BoardSize]Marker

// Moves counts occupied cells.
func (b Board) Moves() int {
	n := 0
	for _, c := range b {
		if c != Empty {
			n++
		}
	}
	return n
}

// Status is the session lifecycle state.
type Status string

const (
	StatusWaiting  Status = "WAITING"
	StatusActive   Status = "ACTIVE"
	StatusFinished Status = "FINISHED"
)

// Principal is an authenticated identity.
type Principal struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Marker   Marker `json:"marker"`
}

// Session is stored as a JSON snapshot under ttt:session:<id>.
type Session struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	FirstPlayer       Participant  `json:"firstPlayer"`
	SecondPlayer      *Participant `json:"secondPlayer"`
	FirstPlayerMarker Marker       `json:"firstPlayerMarker"`
	IsActive          bool         `json:"isActive"`
	Status            Status       `json:"status"`
	Board             Board        `json:"board"`
	Turn              Marker       `json:"turn"`
	Winner            string       `json:"winner,omitempty"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}

// NewSession builds a WAITING session owned by creator.
func NewSession(id, name string, creator Principal, marker Marker, now time.Time) Session {
	if !marker.Valid() {
		marker = MarkerX
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = creator.Username + "'s game"
	}
	return Session{
		ID:   id,
		Name: name,
		FirstPlayer: Participant{
			ID:       creator.ID,
			Username: creator.Username,
			Marker:   marker,
		},
		FirstPlayerMarker: marker,
		Status:            StatusWaiting,
		Turn:              MarkerX,
		CreatedAt:         now.UTC(),
		UpdatedAt:         now.UTC(),
	}
}

// MarshalJSON keeps the derived fields consistent with the state they mirror.
func (s Session) MarshalJSON() ([]byte, error) {
	type snapshot Session
	out := snapshot(s)
	out.IsActive = s.Status == StatusActive
	out.FirstPlayerMarker = s.FirstPlayer.Marker
	return json.Marshal(out)
}

// Participant returns the participant with the given id, if any.
func (s *Session) Participant(id string) (Participant, bool) {
	if id == "" {
		return Participant{}, false
	}
	if s.FirstPlayer.ID == id {
		return s.FirstPlayer, true
	}
	if s.SecondPlayer != nil && s.SecondPlayer.ID == id {
		return *s.SecondPlayer, true
	}
	return Participant{}, false
}

// ParticipantByMarker returns the participant holding m.
func (s *Session) ParticipantByMarker(m Marker) (Participant, bool) {
	if s.FirstPlayer.Marker == m {
		return s.FirstPlayer, true
	}
	if s.SecondPlayer != nil && s.SecondPlayer.Marker == m {
		return *s.SecondPlayer, true
	}
	return Participant{}, false
}

func (s *Session) IsCreator(id string) bool { return id != "" && s.FirstPlayer.ID == id }

// Participants lists the seated participant ids, creator first.
func (s *Session) Participants() []string {
	ids := []string{s.FirstPlayer.ID}
	if s.SecondPlayer != nil {
		ids = append(ids, s.SecondPlayer.ID)
	}
	return ids
}

// Live reports whether the session still counts against its creator's
// one-session limit.
func (s *Session) Live() bool { return s.Status == StatusWaiting || s.Status == StatusActive }
