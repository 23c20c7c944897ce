package wire

type Player struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Marker   string `json:"marker,omitempty"`
}

// Snapshot mirrors the stored session document.
type Snapshot struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	FirstPlayer       Player   `json:"firstPlayer"`
	SecondPlayer      *Player  `json:"secondPlayer"`
	FirstPlayerMarker string   `json:"firstPlayerMarker"`
	IsActive          bool     `json:"isActive"`
	Status            string   `json:"status"`
	Board             []string `json:"board"`
	Turn              string   `json:"turn"`
	Winner            *string  `json:"winner"`
	CreatedAt         string   `json:"createdAt"`
	UpdatedAt         string   `json:"updatedAt"`
}

// Summary is one row of the lobby list.
type Summary struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	CreatorName   string `json:"creatorName"`
	CreatorMarker string `json:"creatorMarker"`
	IsActive      bool   `json:"isActive"`
}

type SessionList struct {
	Sessions []Summary `json:"sessions"`
	UserName string    `json:"userName"`
}

type CreateSessionRequest struct {
	Name   string `json:"name"`
	Marker string `json:"marker"`
}

// JoinResult answers GET /sessions/{id}/join.
type JoinResult struct {
	SessionID           string `json:"sessionId"`
	CurrentPlayerMarker string `json:"currentPlayerMarker"`
}

type SessionAdded struct {
	Type    Type     `json:"type"`
	Session Snapshot `json:"session"`
}

type SessionJoined struct {
	Type      Type   `json:"type"`
	SessionID string `json:"sessionId"`
}

type SessionDeleted struct {
	Type      Type   `json:"type"`
	SessionID string `json:"sessionId"`
}

type GameInvite struct {
	Type      Type   `json:"type"`
	SessionID string `json:"sessionId"`
	Target    Player `json:"targetParticipant"`
	Sender    Player `json:"senderParticipant"`
}

// GameState is the authoritative board after every accepted move.
type GameState struct {
	Type      Type     `json:"type"`
	SessionID string   `json:"sessionId"`
	Status    string   `json:"status"`
	Board     []string `json:"board"`
	Turn      string   `json:"turn"`
	Moves     int      `json:"moves"`
	Winner    *string  `json:"winner"`
	Line      []int    `json:"line,omitempty"`
	Finished  bool     `json:"finished"`
	Players   []Player `json:"players"`
}

type Stats struct {
	UserID     string `json:"userId"`
	GamesTotal int    `json:"gamesTotal"`
	GamesWin   int    `json:"gamesWin"`
	GamesLoose int    `json:"gamesLoose"`
	GamesDraw  int    `json:"gamesDraw"`
}
