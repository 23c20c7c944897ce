// Package wire defines the JSON frames exchanged over the lobby and session
// sockets and the HTTP bodies. Every frame is a flat object with a "type"
// discriminator.
package wire

import (
	"encoding/json"
	"errors"
)

type Type string

const (
	TypeSessionAdded    Type = "SESSION_ADDED"
	TypeSessionJoined   Type = "SESSION_JOINED"
	TypeSessionDeleted  Type = "SESSION_DELETED"
	TypeGameInvite      Type = "GAME_INVITE"
	TypeAuth            Type = "AUTH"
	TypeSendChatMessage Type = "SEND_CHAT_MESSAGE"
	TypeChatMessage     Type = "CHAT_MESSAGE"
	TypeMakeMove        Type = "MAKE_MOVE"
	TypeGameState       Type = "GAME_STATE"
	TypeCloseGame       Type = "CLOSE_GAME"
	TypeGameClosed      Type = "GAME_CLOSED"
	TypeError           Type = "ERROR"
)

// Envelope is decoded first to pick the handler for a frame.
type Envelope struct {
	Type Type `json:"type"`
}

var ErrNoType = errors.New("frame has no type")

// PeekType returns the discriminator of raw.
func PeekType(raw []byte) (Type, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", err
	}
	if env.Type == "" {
		return "", ErrNoType
	}
	return env.Type, nil
}

// AuthStatus values carried by the server's AUTH reply.
const (
	AuthOK     = "ok"
	AuthFailed = "error"
)

// Auth is sent by the client with Token and echoed by the server with
// Status and Principal.
type Auth struct {
	Type      Type    `json:"type"`
	Token     string  `json:"token,omitempty"`
	Status    string  `json:"status,omitempty"`
	Principal *Player `json:"principal,omitempty"`
}

type SendChatMessage struct {
	Type Type   `json:"type"`
	Text string `json:"text"`
}

type ChatMessage struct {
	Type      Type   `json:"type"`
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
	From      Player `json:"from"`
	SentAt    string `json:"sentAt"`
}

// MakeMove carries a pointer so a missing cellIndex is distinguishable from 0.
type MakeMove struct {
	Type      Type `json:"type"`
	CellIndex *int `json:"cellIndex"`
}

type CloseGame struct {
	Type Type `json:"type"`
}

type GameClosed struct {
	Type      Type   `json:"type"`
	SessionID string `json:"sessionId"`
	By        string `json:"by,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Error is both the socket ERROR frame and the HTTP error body.
type Error struct {
	Type    Type   `json:"type,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Theme   string `json:"theme"`
}

// Themes used by clients to style error toasts.
const (
	ThemeInfo    = "info"
	ThemeSuccess = "success"
	ThemeWarning = "warning"
	ThemeDanger  = "danger"
)
