package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/tictactoe-live/internal/adapter/wirepresenter"
	"github.com/park285/tictactoe-live/internal/domain"
	"github.com/park285/tictactoe-live/internal/obslog"
	"github.com/park285/tictactoe-live/pkg/wire"
)

const lobbyClientBuffer = 32

type lobbyClient struct {
	principal domain.Principal
	send      chan []byte
}

// LobbyHub fans lobby events out to this process's lobby sockets.
type LobbyHub struct {
	mu      sync.RWMutex
	clients map[*lobbyClient]struct{}
}

func NewLobbyHub() *LobbyHub {
	return &LobbyHub{clients: make(map[*lobbyClient]struct{})}
}

func (h *LobbyHub) add(c *lobbyClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *LobbyHub) remove(c *lobbyClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *LobbyHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dispatch queues ev for every matching client. Targeted events only reach
// the target's sockets. A client whose queue is full misses the event.
func (h *LobbyHub) Dispatch(ev domain.Event) {
	if len(ev.Payload) == 0 {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if ev.Target != "" && c.principal.ID != ev.Target {
			continue
		}
		select {
		case c.send <- ev.Payload:
		default:
			obslog.L().Warn("lobby_client_slow", zap.String("user_id", c.principal.ID), zap.String("type", ev.Type))
		}
	}
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.opts.OriginPatterns})
	if err != nil {
		obslog.L().Warn("gateway_accept_error", zap.String("path", r.URL.Path), zap.Error(err))
		return nil, err
	}
	return c, nil
}

// awaitAuth discards frames until a valid AUTH arrives. On failure or
// timeout the socket is closed with a policy-violation status.
func (s *Server) awaitAuth(ctx context.Context, c *websocket.Conn) (domain.Principal, error) {
	actx, cancel := context.WithTimeout(ctx, s.opts.AuthTimeout)
	defer cancel()
	for {
		typ, data, err := c.Read(actx)
		if err != nil {
			if errors.Is(actx.Err(), context.DeadlineExceeded) {
				_ = c.Close(websocket.StatusPolicyViolation, "authentication timeout")
			}
			return domain.Principal{}, err
		}
		if typ != websocket.MessageText {
			continue
		}
		kind, err := wire.PeekType(data)
		if err != nil || kind != wire.TypeAuth {
			obslog.L().Warn("gateway_pre_auth_discard", zap.String("type", string(kind)))
			continue
		}
		var msg wire.Auth
		if err := json.Unmarshal(data, &msg); err != nil {
			obslog.L().Warn("gateway_pre_auth_discard", zap.Error(err))
			continue
		}
		p, err := s.auth.Authenticate(actx, msg.Token)
		if err != nil {
			obslog.L().Info("gateway_auth_failed", zap.Error(err))
			conn := &wsConn{c: c, timeout: s.opts.WriteTimeout}
			_ = conn.Send(ctx, wire.Auth{Type: wire.TypeAuth, Status: wire.AuthFailed})
			_ = conn.Send(ctx, s.catalog.ErrorFrame(err))
			_ = c.Close(websocket.StatusPolicyViolation, "authentication failed")
			return domain.Principal{}, err
		}
		player := wirepresenter.PrincipalPlayer(p)
		conn := &wsConn{c: c, timeout: s.opts.WriteTimeout}
		if err := conn.Send(ctx, wire.Auth{Type: wire.TypeAuth, Status: wire.AuthOK, Principal: &player}); err != nil {
			return domain.Principal{}, err
		}
		return p, nil
	}
}

// handleLobby: AWAIT_AUTH -> AUTHENTICATED (list sent) -> relay -> CLOSED.
func (s *Server) handleLobby(w http.ResponseWriter, r *http.Request) {
	c, err := s.accept(w, r)
	if err != nil {
		return
	}
	defer c.CloseNow()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	p, err := s.awaitAuth(ctx, c)
	if err != nil {
		return
	}
	conn := &wsConn{c: c, timeout: s.opts.WriteTimeout}
	client := &lobbyClient{principal: p, send: make(chan []byte, lobbyClientBuffer)}
	s.hub.add(client)
	defer s.hub.remove(client)
	obslog.L().Info("lobby_connect", zap.String("user_id", p.ID))

	list, err := s.reg.List(ctx)
	if err != nil {
		_ = conn.Send(ctx, s.catalog.ErrorFrame(err))
	}
	for _, sess := range list {
		frame := wire.SessionAdded{Type: wire.TypeSessionAdded, Session: wirepresenter.ToSnapshot(sess)}
		if err := conn.Send(ctx, frame); err != nil {
			return
		}
	}

	go func() {
		defer cancel()
		for {
			typ, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageText {
				kind, _ := wire.PeekType(data)
				obslog.L().Debug("lobby_message_ignored", zap.String("user_id", p.ID), zap.String("type", string(kind)))
			}
		}
	}()

	ping := time.NewTicker(s.opts.PingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			obslog.L().Info("lobby_disconnect", zap.String("user_id", p.ID))
			return
		case raw := <-client.send:
			if err := conn.Send(ctx, json.RawMessage(raw)); err != nil {
				obslog.L().Warn("lobby_send_error", zap.String("user_id", p.ID), zap.Error(err))
				return
			}
		case <-ping.C:
			if err := s.ping(ctx, c); err != nil {
				return
			}
		}
	}
}

func (s *Server) ping(ctx context.Context, c *websocket.Conn) error {
	pctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
	defer cancel()
	return c.Ping(pctx)
}
