package domain

import "encoding/json"

// Event kinds carried over the broker. Values match the wire message types.
const (
	EventSessionAdded   = "SESSION_ADDED"
	EventSessionJoined  = "SESSION_JOINED"
	EventSessionDeleted = "SESSION_DELETED"
	EventGameInvite     = "GAME_INVITE"
	EventGameState      = "GAME_STATE"
	EventChatMessage    = "CHAT_MESSAGE"
	EventGameClosed     = "GAME_CLOSED"
)

// Event is one broker message. Payload holds the encoded wire frame that
// subscribers forward to their sockets unchanged.
type Event struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Target    string          `json:"target,omitempty"`
	Origin    string          `json:"origin,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}
