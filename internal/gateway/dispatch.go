package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/tictactoe-live/internal/adapter/wirepresenter"
	"github.com/park285/tictactoe-live/internal/domain"
	"github.com/park285/tictactoe-live/internal/game"
	"github.com/park285/tictactoe-live/internal/obslog"
	"github.com/park285/tictactoe-live/internal/stats"
	"github.com/park285/tictactoe-live/pkg/wire"
)

const maxChatRunes = 500

type handler func(ctx context.Context, t *sessionTask, raw []byte) error

var sessionHandlers = map[wire.Type]handler{
	wire.TypeSendChatMessage: handleChat,
	wire.TypeMakeMove:        handleMove,
	wire.TypeCloseGame:       handleClose,
}

func (t *sessionTask) dispatch(ctx context.Context, raw []byte) {
	typ, err := wire.PeekType(raw)
	if err != nil {
		t.sendError(ctx, domain.Wrap(domain.CodeBadRequest, err))
		return
	}
	h, ok := sessionHandlers[typ]
	if !ok {
		obslog.L().Warn("session_unknown_message", zap.String("session_id", t.id), zap.String("type", string(typ)))
		return
	}
	if err := h(ctx, t, raw); err != nil {
		t.sendError(ctx, err)
	}
}

// fanout delivers frame to the local participants and publishes it for the
// other processes.
func (t *sessionTask) fanout(ctx context.Context, typ string, frame any) {
	raw, err := json.Marshal(frame)
	if err != nil {
		obslog.L().Error("session_encode_error", zap.String("type", typ), zap.Error(err))
		return
	}
	t.mgr.Broadcast(ctx, json.RawMessage(raw))
	ev := domain.Event{Type: typ, SessionID: t.id, Origin: t.srv.opts.Origin, Payload: raw}
	if err := t.srv.broker.Publish(ctx, t.channel, ev); err != nil {
		obslog.L().Warn("session_publish_error", zap.String("session_id", t.id), zap.String("type", typ), zap.Error(err))
	}
}

func handleChat(ctx context.Context, t *sessionTask, raw []byte) error {
	var msg wire.SendChatMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.Wrap(domain.CodeBadRequest, err)
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" || utf8.RuneCountInString(text) > maxChatRunes {
		return domain.ErrBadRequest
	}
	t.fanout(ctx, domain.EventChatMessage, wire.ChatMessage{
		Type:      wire.TypeChatMessage,
		SessionID: t.id,
		Text:      text,
		From:      wirepresenter.PrincipalPlayer(t.p),
		SentAt:    t.srv.now().Format(time.RFC3339),
	})
	return nil
}

// handleMove applies the move under the session's local lock so states are
// broadcast in the order they were committed.
func handleMove(ctx context.Context, t *sessionTask, raw []byte) error {
	var msg wire.MakeMove
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.Wrap(domain.CodeBadRequest, err)
	}
	if msg.CellIndex == nil {
		return domain.ErrInvalidCell
	}
	var (
		next    *domain.Session
		outcome game.Outcome
	)
	err := t.mgr.Exclusive(func() error {
		var err error
		next, err = t.srv.store.Update(ctx, t.id, func(s *domain.Session) error {
			ns, out, err := game.ApplyMove(*s, t.p.ID, *msg.CellIndex)
			if err != nil {
				return err
			}
			ns.UpdatedAt = t.srv.now()
			*s, outcome = ns, out
			return nil
		})
		if err != nil {
			return err
		}
		t.fanout(ctx, domain.EventGameState, wirepresenter.ToGameState(*next, outcome))
		return nil
	})
	if err != nil {
		return err
	}
	obslog.L().Debug("session_move", zap.String("session_id", t.id), zap.String("user_id", t.p.ID), zap.Int("cell", *msg.CellIndex))
	if outcome.Finished() {
		t.srv.finish(ctx, next)
	}
	return nil
}

func (s *Server) finish(ctx context.Context, sess *domain.Session) {
	if err := s.stats.RecordResult(ctx, stats.ResultOf(*sess)); err != nil {
		obslog.L().Warn("stats_record_error", zap.String("session_id", sess.ID), zap.Error(err))
	}
	if err := s.reg.Finish(ctx, sess); err != nil {
		obslog.L().Warn("session_finish_error", zap.String("session_id", sess.ID), zap.Error(err))
	}
	obslog.L().Info("session_finished", zap.String("session_id", sess.ID), zap.String("winner", sess.Winner))
}

func handleClose(ctx context.Context, t *sessionTask, _ []byte) error {
	ok, err := t.srv.reg.Close(ctx, t.id, t.p.ID)
	if err != nil {
		return err
	}
	if !ok {
		frame := t.srv.catalog.ErrorFrame(domain.ErrSessionNotFound)
		frame.Message = t.srv.catalog.Text("errors.NotCreator", frame.Message, nil)
		return t.conn.Send(ctx, frame)
	}
	t.closed = true
	t.srv.terminate(ctx, t.id, t.p)
	return nil
}

// terminate tells every participant, here and on other processes, that the
// session is gone and closes the local sockets.
func (s *Server) terminate(ctx context.Context, sessionID string, by domain.Principal) {
	reason := s.catalog.Text("game.closed", by.Username+" closed the game", map[string]string{"By": by.Username})
	raw, err := json.Marshal(wire.GameClosed{
		Type:      wire.TypeGameClosed,
		SessionID: sessionID,
		By:        by.ID,
		Reason:    reason,
	})
	if err != nil {
		obslog.L().Error("session_encode_error", zap.String("type", domain.EventGameClosed), zap.Error(err))
		return
	}
	if mgr, ok := s.pool.Lookup(sessionID); ok {
		mgr.Broadcast(ctx, json.RawMessage(raw))
		mgr.CloseAll(websocket.StatusNormalClosure, "game closed")
	}
	ev := domain.Event{Type: domain.EventGameClosed, SessionID: sessionID, Origin: s.opts.Origin, Payload: raw}
	if err := s.broker.Publish(ctx, s.sessionChannel(sessionID), ev); err != nil {
		obslog.L().Warn("session_publish_error", zap.String("session_id", sessionID), zap.String("type", domain.EventGameClosed), zap.Error(err))
	}
	obslog.L().Info("session_closed", zap.String("session_id", sessionID), zap.String("by", by.ID))
}
