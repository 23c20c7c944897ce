package tttclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/tictactoe-live/pkg/wire"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
	// StateClosed: the server ended the channel on purpose (game closed or
	// socket rejected). No reconnect is attempted.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "disconnected"
	}
}

var ErrNotConnected = errors.New("socket not connected")

// AuthError is returned by Connect when the server refused the token.
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected: %s %s", e.Code, e.Message)
}

type MessageCallback func(typ wire.Type, raw []byte)

type StateCallback func(state State)

type callbackEntry struct {
	id       int
	callback MessageCallback
}

type stateCallbackEntry struct {
	id       int
	callback StateCallback
}

// Socket is one authenticated lobby or session channel.
type Socket struct {
	wsURL string
	token TokenSource

	mu        sync.Mutex
	conn      *websocket.Conn
	state     State
	principal *wire.Player

	msgCbs   []callbackEntry
	stateCbs []stateCallbackEntry
	nextID   int
	cbM      sync.RWMutex

	maxReconnectAttempts int
	pingInterval         time.Duration
	authTimeout          time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type SocketOption func(*Socket)

// WithReconnect sets how many dial attempts follow an unexpected drop.
// Zero disables reconnecting.
func WithReconnect(max int) SocketOption {
	return func(s *Socket) { s.maxReconnectAttempts = max }
}

func WithPingInterval(d time.Duration) SocketOption {
	return func(s *Socket) { s.pingInterval = d }
}

func WithAuthTimeout(d time.Duration) SocketOption {
	return func(s *Socket) { s.authTimeout = d }
}

func NewSocket(wsURL string, token TokenSource, opts ...SocketOption) *Socket {
	s := &Socket{
		wsURL:                wsURL,
		token:                token,
		state:                StateDisconnected,
		maxReconnectAttempts: 5,
		pingInterval:         30 * time.Second,
		authTimeout:          10 * time.Second,
		stopCh:               make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Connect dials and authenticates. It returns once the server acknowledged
// the token.
func (s *Socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateConnected || s.state == StateConnecting {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.setState(StateConnecting)
	conn, err := s.dial(ctx)
	if err != nil {
		s.setState(StateFailed)
		return err
	}
	s.start(conn)
	return nil
}

func (s *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.authTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, s.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return nil, err
	}
	tok := ""
	if s.token != nil {
		tok = s.token()
	}
	if err := wsjson.Write(dialCtx, conn, wire.Auth{Type: wire.TypeAuth, Token: tok}); err != nil {
		conn.CloseNow()
		return nil, err
	}
	for {
		_, data, err := conn.Read(dialCtx)
		if err != nil {
			conn.CloseNow()
			return nil, err
		}
		typ, _ := wire.PeekType(data)
		if typ != wire.TypeAuth {
			continue
		}
		var ack wire.Auth
		if err := json.Unmarshal(data, &ack); err != nil {
			conn.CloseNow()
			return nil, fmt.Errorf("decode auth ack: %w", err)
		}
		if ack.Status != wire.AuthOK {
			aerr := &AuthError{Code: "Unauthorized"}
			if _, data, err := conn.Read(dialCtx); err == nil {
				var frame wire.Error
				if json.Unmarshal(data, &frame) == nil && frame.Code != "" {
					aerr.Code, aerr.Message = frame.Code, frame.Message
				}
			}
			conn.CloseNow()
			return nil, aerr
		}
		s.mu.Lock()
		s.principal = ack.Principal
		s.mu.Unlock()
		return conn, nil
	}
}

func (s *Socket) start(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.setState(StateConnected)

	done := make(chan struct{})
	s.wg.Add(2)
	go s.listen(conn, done)
	go s.pingLoop(conn, done)
}

func (s *Socket) listen(conn *websocket.Conn, done chan struct{}) {
	defer s.wg.Done()
	defer close(done)
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			if s.isStopping() {
				return
			}
			s.dropConn(conn)
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusPolicyViolation:
				s.setState(StateClosed)
			default:
				s.setState(StateDisconnected)
				s.scheduleReconnect()
			}
			return
		}
		typ, err := wire.PeekType(data)
		if err != nil {
			continue
		}
		s.cbM.RLock()
		callbacks := make([]callbackEntry, len(s.msgCbs))
		copy(callbacks, s.msgCbs)
		s.cbM.RUnlock()
		for _, entry := range callbacks {
			entry.callback(typ, data)
		}
	}
}

func (s *Socket) pingLoop(conn *websocket.Conn, done chan struct{}) {
	defer s.wg.Done()
	t := time.NewTicker(s.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-s.stopCh:
			return
		case <-done:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				// listen sees the close and schedules the reconnect
				_ = conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (s *Socket) scheduleReconnect() {
	if s.maxReconnectAttempts <= 0 {
		s.setState(StateFailed)
		return
	}
	s.setState(StateReconnecting)
	go func() {
		for attempt := 1; attempt <= s.maxReconnectAttempts; attempt++ {
			select {
			case <-s.stopCh:
				return
			case <-time.After(backoffDuration(attempt)):
			}
			conn, err := s.dial(context.Background())
			if err != nil {
				var aerr *AuthError
				if errors.As(err, &aerr) {
					break
				}
				continue
			}
			s.start(conn)
			return
		}
		s.setState(StateFailed)
	}()
}

// Send writes frame as JSON.
func (s *Socket) Send(ctx context.Context, frame any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return wsjson.Write(ctx, conn, frame)
}

func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Principal is the identity the server acknowledged.
func (s *Socket) Principal() *wire.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.principal
}

func (s *Socket) OnMessage(cb MessageCallback) int {
	s.cbM.Lock()
	defer s.cbM.Unlock()
	s.nextID++
	s.msgCbs = append(s.msgCbs, callbackEntry{id: s.nextID, callback: cb})
	return s.nextID
}

func (s *Socket) RemoveMessageCallback(id int) {
	s.cbM.Lock()
	defer s.cbM.Unlock()
	for i, cb := range s.msgCbs {
		if cb.id == id {
			s.msgCbs = append(s.msgCbs[:i], s.msgCbs[i+1:]...)
			break
		}
	}
}

func (s *Socket) OnStateChange(cb StateCallback) int {
	s.cbM.Lock()
	defer s.cbM.Unlock()
	s.nextID++
	s.stateCbs = append(s.stateCbs, stateCallbackEntry{id: s.nextID, callback: cb})
	return s.nextID
}

func (s *Socket) RemoveStateCallback(id int) {
	s.cbM.Lock()
	defer s.cbM.Unlock()
	for i, cb := range s.stateCbs {
		if cb.id == id {
			s.stateCbs = append(s.stateCbs[:i], s.stateCbs[i+1:]...)
			break
		}
	}
}

func (s *Socket) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	s.cbM.RLock()
	callbacks := make([]stateCallbackEntry, len(s.stateCbs))
	copy(callbacks, s.stateCbs)
	s.cbM.RUnlock()
	for _, entry := range callbacks {
		entry.callback(state)
	}
}

func (s *Socket) dropConn(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	conn.CloseNow()
}

// Close ends the channel and waits for the background goroutines.
func (s *Socket) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		s.setState(StateClosed)
		return nil
	}
}

func (s *Socket) isStopping() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}
