// Package connmgr tracks the live sockets of each session inside one process.
package connmgr

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/tictactoe-live/internal/domain"
	"github.com/park285/tictactoe-live/internal/obslog"
)

// Capacity is the number of participants a session seats.
const Capacity = 2

// Conn is one participant's outbound channel.
type Conn interface {
	Send(ctx context.Context, msg any) error
	Close(code websocket.StatusCode, reason string) error
}

type Manager struct {
	sessionID string

	mu    sync.Mutex
	conns map[string]Conn

	// op serializes state change + broadcast pairs
	op sync.Mutex
}

func NewManager(sessionID string) *Manager {
	return &Manager{sessionID: sessionID, conns: make(map[string]Conn, Capacity)}
}

func (m *Manager) SessionID() string { return m.sessionID }

// Attach registers conn for participantID. Existing conns are never touched
// when the attach is rejected.
func (m *Manager) Attach(participantID string, conn Conn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[participantID]; ok {
		return domain.ErrAlreadyConnected
	}
	if len(m.conns) >= Capacity {
		return domain.ErrCapacityExceeded
	}
	m.conns[participantID] = conn
	obslog.L().Debug("connmgr_attach", zap.String("session_id", m.sessionID), zap.String("user_id", participantID), zap.Int("attached", len(m.conns)))
	return nil
}

// Detach removes and closes participantID's conn. It reports how many remain
// and whether anything was removed.
func (m *Manager) Detach(participantID string) (int, bool) {
	m.mu.Lock()
	c, ok := m.conns[participantID]
	delete(m.conns, participantID)
	n := len(m.conns)
	m.mu.Unlock()
	if ok {
		_ = c.Close(websocket.StatusNormalClosure, "detached")
	}
	return n, ok
}

// detachIf drops participantID only while it is still bound to c.
func (m *Manager) detachIf(participantID string, c Conn) {
	m.mu.Lock()
	cur, ok := m.conns[participantID]
	if ok && cur == c {
		delete(m.conns, participantID)
	}
	m.mu.Unlock()
	if ok && cur == c {
		_ = c.Close(websocket.StatusGoingAway, "send failed")
	}
}

func (m *Manager) snapshot() map[string]Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Conn, len(m.conns))
	for k, v := range m.conns {
		out[k] = v
	}
	return out
}

// Broadcast sends msg to every attached conn. A failed send detaches that
// conn; the rest still receive. It returns the number of successful sends.
func (m *Manager) Broadcast(ctx context.Context, msg any) int {
	delivered := 0
	for id, c := range m.snapshot() {
		if err := c.Send(ctx, msg); err != nil {
			obslog.L().Warn("connmgr_send_error", zap.String("session_id", m.sessionID), zap.String("user_id", id), zap.Error(err))
			m.detachIf(id, c)
			continue
		}
		delivered++
	}
	return delivered
}

// Send delivers msg to one participant.
func (m *Manager) Send(ctx context.Context, participantID string, msg any) error {
	m.mu.Lock()
	c, ok := m.conns[participantID]
	m.mu.Unlock()
	if !ok {
		return domain.ErrNotAParticipant
	}
	if err := c.Send(ctx, msg); err != nil {
		m.detachIf(participantID, c)
		return err
	}
	return nil
}

// Exclusive runs fn while no other Exclusive call of this session runs, so a
// state change and its local broadcast reach both sockets in commit order.
func (m *Manager) Exclusive(fn func() error) error {
	m.op.Lock()
	defer m.op.Unlock()
	return fn()
}

func (m *Manager) Has(participantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.conns[participantID]
	return ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

func (m *Manager) Participants() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// CloseAll detaches and closes every conn with the given status.
func (m *Manager) CloseAll(code websocket.StatusCode, reason string) {
	m.mu.Lock()
	all := m.conns
	m.conns = make(map[string]Conn, Capacity)
	m.mu.Unlock()
	for _, c := range all {
		_ = c.Close(code, reason)
	}
}
