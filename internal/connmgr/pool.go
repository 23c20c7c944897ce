package connmgr

import "sync"

// Pool holds one Manager per session with local participants.
type Pool struct {
	mu       sync.Mutex
	managers map[string]*Manager
}

func NewPool() *Pool { return &Pool{managers: make(map[string]*Manager)} }

// Get returns the session's manager, creating it on first use.
func (p *Pool) Get(sessionID string) *Manager {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.managers[sessionID]
	if !ok {
		m = NewManager(sessionID)
		p.managers[sessionID] = m
	}
	return m
}

func (p *Pool) Lookup(sessionID string) (*Manager, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.managers[sessionID]
	return m, ok
}

// Release drops the manager once it has no conns left.
func (p *Pool) Release(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.managers[sessionID]; ok && m.Len() == 0 {
		delete(p.managers, sessionID)
	}
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.managers)
}

// Attach binds conn to the session's manager under the pool lock, so a
// concurrent Release can never orphan the manager being attached to.
func (p *Pool) Attach(sessionID, participantID string, conn Conn) (*Manager, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.managers[sessionID]
	if !ok {
		m = NewManager(sessionID)
	}
	if err := m.Attach(participantID, conn); err != nil {
		return nil, err
	}
	p.managers[sessionID] = m
	return m, nil
}

// Detach removes participantID and drops the manager when it empties. It
// returns the number of conns still attached locally.
func (p *Pool) Detach(sessionID, participantID string) int {
	p.mu.Lock()
	m, ok := p.managers[sessionID]
	p.mu.Unlock()
	if !ok {
		return 0
	}
	n, _ := m.Detach(participantID)
	p.Release(sessionID)
	return n
}
