// Package gateway serves the lobby and session websocket channels and the
// HTTP routes. Any number of gateway processes can share one store and broker.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/park285/tictactoe-live/internal/auth"
	"github.com/park285/tictactoe-live/internal/broker"
	"github.com/park285/tictactoe-live/internal/connmgr"
	"github.com/park285/tictactoe-live/internal/domain"
	"github.com/park285/tictactoe-live/internal/msgcat"
	"github.com/park285/tictactoe-live/internal/stats"
)

// Registry is the session lifecycle the gateway drives.
type Registry interface {
	Create(ctx context.Context, p domain.Principal, name string, marker domain.Marker) (*domain.Session, error)
	Join(ctx context.Context, p domain.Principal, sessionID string) (*domain.Session, error)
	Close(ctx context.Context, sessionID, requesterID string) (bool, error)
	Finish(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	List(ctx context.Context) ([]domain.Session, error)
}

// SessionStore is the part of the store used for moves and presence.
type SessionStore interface {
	Update(ctx context.Context, id string, fn func(*domain.Session) error) (*domain.Session, error)
	AttachPresence(ctx context.Context, sessionID, userID string, max int) error
	DetachPresence(ctx context.Context, sessionID, userID string) (int64, error)
	RefreshPresence(ctx context.Context, sessionID, userID string) error
	Ping(ctx context.Context) error
}

type Deps struct {
	Registry Registry
	Store    SessionStore
	Broker   broker.Broker
	Auth     auth.Authenticator
	Stats    stats.Recorder  // optional, defaults to stats.Nop
	Catalog  *msgcat.Catalog // optional
	Hub      *LobbyHub       // optional, share it with the registry's local fallback
}

type Options struct {
	LobbyChannel string
	Origin       string // process id stamped on published events
	AuthTimeout  time.Duration
	PingInterval time.Duration
	// RetryInterval spaces resubscribe attempts of a session channel.
	RetryInterval  time.Duration
	WriteTimeout   time.Duration
	OriginPatterns []string
	// Now stamps move and chat times. Defaults to time.Now.
	Now func() time.Time
}

func (o *Options) defaults() {
	if o.LobbyChannel == "" {
		o.LobbyChannel = broker.DefaultLobbyChannel
	}
	if o.Origin == "" {
		o.Origin = uuid.NewString()
	}
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 500 * time.Millisecond
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type Server struct {
	reg     Registry
	store   SessionStore
	broker  broker.Broker
	auth    auth.Authenticator
	stats   stats.Recorder
	catalog *msgcat.Catalog
	hub     *LobbyHub
	pool    *connmgr.Pool
	opts    Options
}

func New(d Deps, opts Options) *Server {
	opts.defaults()
	s := &Server{
		reg:     d.Registry,
		store:   d.Store,
		broker:  d.Broker,
		auth:    d.Auth,
		stats:   d.Stats,
		catalog: d.Catalog,
		hub:     d.Hub,
		pool:    connmgr.NewPool(),
		opts:    opts,
	}
	if s.stats == nil {
		s.stats = stats.Nop{}
	}
	if s.hub == nil {
		s.hub = NewLobbyHub()
	}
	return s
}

func (s *Server) Origin() string      { return s.opts.Origin }
func (s *Server) Hub() *LobbyHub      { return s.hub }
func (s *Server) Pool() *connmgr.Pool { return s.pool }

func (s *Server) now() time.Time { return s.opts.Now().UTC() }

// Run relays lobby events from the broker to local lobby sockets until ctx
// is done.
func (s *Server) Run(ctx context.Context) {
	r := &broker.Relay{Broker: s.broker, Channel: s.opts.LobbyChannel, Handle: s.hub.Dispatch}
	r.Run(ctx)
}

func (s *Server) sessionChannel(id string) string {
	return broker.SessionChannel(s.opts.LobbyChannel, id)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /ws/lobby", s.handleLobby)
	mux.HandleFunc("GET /ws/sessions/{id}", s.handleSession)
	mux.HandleFunc("GET /sessions", s.withAuth(s.handleList))
	mux.HandleFunc("POST /sessions", s.withAuth(s.handleCreate))
	mux.HandleFunc("GET /sessions/{id}", s.withAuth(s.handleGet))
	mux.HandleFunc("GET /sessions/{id}/join", s.withAuth(s.handleJoin))
	mux.HandleFunc("DELETE /sessions/{id}", s.withAuth(s.handleDelete))
	mux.HandleFunc("GET /sessions/{id}/board.png", s.withAuth(s.handleBoard))
	mux.HandleFunc("GET /stats/me", s.withAuth(s.handleStats))
	return mux
}
