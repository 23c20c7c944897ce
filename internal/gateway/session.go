package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/tictactoe-live/internal/adapter/wirepresenter"
	"github.com/park285/tictactoe-live/internal/broker"
	"github.com/park285/tictactoe-live/internal/connmgr"
	"github.com/park285/tictactoe-live/internal/domain"
	"github.com/park285/tictactoe-live/internal/game"
	"github.com/park285/tictactoe-live/internal/obslog"
)

// sessionTask is one authenticated participant socket on a session channel.
type sessionTask struct {
	srv       *Server
	id        string
	channel   string
	creatorID string
	p         domain.Principal
	ws        *websocket.Conn
	conn      *wsConn
	mgr       *connmgr.Manager
	sub       broker.Subscription

	presenceHeld bool
	closed       bool // session ended by CLOSE_GAME, no abandonment handling
}

func (s *Server) reject(ctx context.Context, c *websocket.Conn, err error, status websocket.StatusCode) {
	conn := &wsConn{c: c, timeout: s.opts.WriteTimeout}
	frame := s.catalog.ErrorFrame(err)
	_ = conn.Send(ctx, frame)
	_ = c.Close(status, frame.Message)
}

// admit checks the principal against the stored session.
func admit(sess *domain.Session, p domain.Principal) error {
	if sess == nil {
		return domain.ErrSessionNotFound
	}
	if _, ok := sess.Participant(p.ID); ok {
		return nil
	}
	if sess.SecondPlayer != nil {
		return domain.ErrCapacityExceeded
	}
	return domain.ErrNotAParticipant
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
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
	sess, err := s.reg.Get(ctx, id)
	if err == nil {
		err = admit(sess, p)
	}
	if err != nil {
		obslog.L().Info("session_reject", zap.String("session_id", id), zap.String("user_id", p.ID), zap.Error(err))
		s.reject(ctx, c, err, websocket.StatusPolicyViolation)
		return
	}

	t := &sessionTask{
		srv:       s,
		id:        id,
		channel:   s.sessionChannel(id),
		creatorID: sess.FirstPlayer.ID,
		p:         p,
		ws:        c,
		conn:      &wsConn{c: c, timeout: s.opts.WriteTimeout},
	}
	if err := t.attach(ctx); err != nil {
		obslog.L().Info("session_attach_rejected", zap.String("session_id", id), zap.String("user_id", p.ID), zap.Error(err))
		s.reject(ctx, c, err, websocket.StatusPolicyViolation)
		return
	}
	defer t.cleanup()
	obslog.L().Info("session_connect", zap.String("session_id", id), zap.String("user_id", p.ID))
	t.loop(ctx)
}

// attach registers presence, the local connection and the broker
// subscription, then sends the current state.
func (t *sessionTask) attach(ctx context.Context) error {
	s := t.srv
	switch err := s.store.AttachPresence(ctx, t.id, t.p.ID, connmgr.Capacity); {
	case err == nil:
		t.presenceHeld = true
	case domain.IsBackendFault(err):
		obslog.L().Warn("session_presence_degraded", zap.String("session_id", t.id), zap.Error(err))
	default:
		return err
	}

	mgr, err := s.pool.Attach(t.id, t.p.ID, t.conn)
	if err != nil {
		t.releasePresence(ctx)
		return err
	}
	t.mgr = mgr
	t.subscribe(ctx)

	sess, err := s.reg.Get(ctx, t.id)
	if err != nil || sess == nil {
		t.closed = true
		t.cleanup()
		if err == nil {
			err = domain.ErrSessionNotFound
		}
		return err
	}
	if err := t.conn.Send(ctx, wirepresenter.ToGameState(*sess, game.Outcome{})); err != nil {
		obslog.L().Warn("session_send_error", zap.String("session_id", t.id), zap.Error(err))
	}
	return nil
}

func (t *sessionTask) subscribe(ctx context.Context) bool {
	sub, err := t.srv.broker.Subscribe(ctx, t.channel)
	if err != nil {
		obslog.L().Warn("session_subscribe_error", zap.String("session_id", t.id), zap.Error(err))
		return false
	}
	t.sub = sub
	return true
}

func (t *sessionTask) events() <-chan domain.Event {
	if t.sub == nil {
		return nil
	}
	return t.sub.C()
}

// keepalive pings the client and refreshes presence until ctx is done. A
// missed pong cancels the task. It runs apart from the loop because pongs are
// only processed while the reader is inside Read.
func (t *sessionTask) keepalive(ctx context.Context, cancel context.CancelFunc) {
	s := t.srv
	ping := time.NewTicker(s.opts.PingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
		}
		if err := s.ping(ctx, t.ws); err != nil {
			if ctx.Err() == nil {
				obslog.L().Info("session_ping_timeout", zap.String("session_id", t.id), zap.String("user_id", t.p.ID))
				cancel()
			}
			return
		}
		if t.presenceHeld {
			if err := s.store.RefreshPresence(ctx, t.id, t.p.ID); err != nil {
				obslog.L().Warn("session_presence_refresh_error", zap.String("session_id", t.id), zap.Error(err))
			}
		}
	}
}

func (t *sessionTask) loop(ctx context.Context) {
	s := t.srv
	ctx, cancel := context.WithCancel(ctx)
	alive := make(chan struct{})
	go func() {
		defer close(alive)
		t.keepalive(ctx, cancel)
	}()
	defer func() {
		cancel()
		<-alive
	}()

	inbound := make(chan []byte)
	go func() {
		defer close(inbound)
		for {
			typ, data, err := t.ws.Read(ctx)
			if err != nil {
				if status := websocket.CloseStatus(err); status == -1 && !errors.Is(err, context.Canceled) {
					obslog.L().Debug("session_read_error", zap.String("session_id", t.id), zap.Error(err))
				}
				return
			}
			if typ != websocket.MessageText {
				continue
			}
			select {
			case inbound <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	var retry <-chan time.Time
	if t.sub == nil {
		retry = time.After(s.opts.RetryInterval)
	}

	for !t.closed {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-inbound:
			if !ok {
				return
			}
			t.dispatch(ctx, raw)
		case ev, ok := <-t.events():
			if !ok {
				_ = t.sub.Close()
				t.sub = nil
				retry = time.After(s.opts.RetryInterval)
				continue
			}
			if !t.relay(ctx, ev) {
				return
			}
		case <-retry:
			retry = nil
			if !t.subscribe(ctx) {
				retry = time.After(s.opts.RetryInterval)
			}
		}
	}
}

// relay forwards an event published by another process. It reports whether
// the task should keep running.
func (t *sessionTask) relay(ctx context.Context, ev domain.Event) bool {
	if ev.Origin == t.srv.opts.Origin {
		return true
	}
	if ev.Target != "" && ev.Target != t.p.ID {
		return true
	}
	if err := t.conn.Send(ctx, ev.Payload); err != nil {
		obslog.L().Warn("session_send_error", zap.String("session_id", t.id), zap.String("user_id", t.p.ID), zap.Error(err))
		return false
	}
	if ev.Type == domain.EventGameClosed {
		t.closed = true
		_ = t.ws.Close(websocket.StatusNormalClosure, "game closed")
		return false
	}
	return true
}

func (t *sessionTask) releasePresence(ctx context.Context) (int64, bool) {
	if !t.presenceHeld {
		return 0, false
	}
	t.presenceHeld = false
	n, err := t.srv.store.DetachPresence(ctx, t.id, t.p.ID)
	if err != nil {
		obslog.L().Warn("session_presence_detach_error", zap.String("session_id", t.id), zap.Error(err))
		return 0, false
	}
	return n, true
}

// cleanup detaches the socket. When nobody is left on the session anywhere,
// the session is closed on the creator's behalf.
func (t *sessionTask) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	remaining := int64(t.srv.pool.Detach(t.id, t.p.ID))
	if t.sub != nil {
		_ = t.sub.Close()
		t.sub = nil
	}
	if n, ok := t.releasePresence(ctx); ok {
		remaining = n
	}
	obslog.L().Info("session_disconnect", zap.String("session_id", t.id), zap.String("user_id", t.p.ID), zap.Int64("remaining", remaining))
	if remaining > 0 || t.closed {
		return
	}
	t.closed = true
	ok, err := t.srv.reg.Close(ctx, t.id, t.creatorID)
	if err != nil {
		obslog.L().Warn("session_abandon_error", zap.String("session_id", t.id), zap.Error(err))
		return
	}
	if ok {
		obslog.L().Info("session_abandoned", zap.String("session_id", t.id))
	}
}

func (t *sessionTask) sendError(ctx context.Context, err error) {
	if !domain.IsClientError(domain.CodeOf(err)) {
		obslog.L().Error("session_handler_error", zap.String("session_id", t.id), zap.String("user_id", t.p.ID), zap.Error(err))
	}
	if serr := t.conn.Send(ctx, t.srv.catalog.ErrorFrame(err)); serr != nil {
		obslog.L().Warn("session_send_error", zap.String("session_id", t.id), zap.Error(serr))
	}
}
