package gateway

import (
	"context"
	"encoding/json"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// wsConn adapts a websocket to connmgr.Conn. Pre-encoded frames
// (json.RawMessage) are written as is, anything else goes through wsjson.
type wsConn struct {
	c       *websocket.Conn
	timeout time.Duration
}

func (w *wsConn) Send(ctx context.Context, msg any) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	switch m := msg.(type) {
	case json.RawMessage:
		return w.c.Write(ctx, websocket.MessageText, m)
	case []byte:
		return w.c.Write(ctx, websocket.MessageText, m)
	default:
		return wsjson.Write(ctx, w.c, msg)
	}
}

func (w *wsConn) Close(code websocket.StatusCode, reason string) error {
	return w.c.Close(code, reason)
}
