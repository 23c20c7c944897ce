package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/park285/tictactoe-live/internal/adapter/wirepresenter"
	"github.com/park285/tictactoe-live/internal/domain"
	"github.com/park285/tictactoe-live/internal/obslog"
	"github.com/park285/tictactoe-live/internal/render"
	"github.com/park285/tictactoe-live/pkg/wire"
)

const maxBodyBytes = 4 << 10

type authedHandler func(w http.ResponseWriter, r *http.Request, p domain.Principal)

func (s *Server) withAuth(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.auth.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		h(w, r, p)
	}
}

func statusFor(err error) int {
	code := domain.CodeOf(err)
	switch {
	case code == domain.CodeUnauthorized:
		return http.StatusUnauthorized
	case domain.IsBackendFault(err):
		return http.StatusServiceUnavailable
	case domain.IsClientError(code):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		obslog.L().Error("http_error", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	}
	frame := s.catalog.ErrorFrame(err)
	frame.Type = ""
	writeJSON(w, status, frame)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		obslog.L().Debug("http_write_error", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	list, err := s.reg.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.SessionList{Sessions: wirepresenter.ToSummaries(list), UserName: p.Username})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	var req wire.CreateSessionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, domain.Wrap(domain.CodeBadRequest, err))
		return
	}
	marker, err := domain.ParseMarker(req.Marker)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	name := req.Name
	if name == "" {
		name = s.catalog.Text("lobby.default_name", "", map[string]string{"Username": p.Username})
	}
	sess, err := s.reg.Create(r.Context(), p, name, marker)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wirepresenter.ToSnapshot(*sess))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, _ domain.Principal) {
	sess, err := s.reg.Get(r.Context(), r.PathValue("id"))
	if err == nil && sess == nil {
		err = domain.ErrSessionNotFound
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wirepresenter.ToSnapshot(*sess))
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	sess, err := s.reg.Join(r.Context(), p, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.JoinResult{SessionID: sess.ID, CurrentPlayerMarker: string(sess.SecondPlayer.Marker)})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	ok, err := s.reg.Close(r.Context(), r.PathValue("id"), p.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		frame := s.catalog.ErrorFrame(domain.ErrSessionNotFound)
		frame.Type = ""
		frame.Message = s.catalog.Text("errors.NotCreator", frame.Message, nil)
		writeJSON(w, http.StatusBadRequest, frame)
		return
	}
	s.terminate(r.Context(), r.PathValue("id"), p)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request, _ domain.Principal) {
	sess, err := s.reg.Get(r.Context(), r.PathValue("id"))
	if err == nil && sess == nil {
		err = domain.ErrSessionNotFound
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	img, err := render.RenderPNG(r.Context(), *sess, render.Options{Caption: true})
	if err != nil {
		s.writeError(w, r, domain.Wrap(domain.CodeOperationFailed, err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(img)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	st, err := s.stats.Get(r.Context(), p.ID)
	if err != nil {
		s.writeError(w, r, domain.Wrap(domain.CodeOperationFailed, err))
		return
	}
	writeJSON(w, http.StatusOK, wirepresenter.ToStats(p.ID, st.GamesTotal, st.GamesWin, st.GamesLoose, st.GamesDraw))
}
