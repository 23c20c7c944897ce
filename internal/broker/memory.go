package broker

import (
	"context"
	"errors"
	"sync"

	"github.com/park285/tictactoe-live/internal/domain"
)

// Memory fans events out inside one process. Used by tests and by
// single-process deployments (BROKER_BACKEND=memory).
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	closed bool
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[*subscription]struct{})}
}

var errMemoryClosed = errors.New("memory broker closed")

func (b *Memory) Publish(ctx context.Context, channel string, ev domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return unavailable("publish", errMemoryClosed)
	}
	for s := range b.subs[channel] {
		s.deliver(ev)
	}
	return nil
}

func (b *Memory) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, unavailable("subscribe", errMemoryClosed)
	}
	sub := newSubscription(channel)
	set, ok := b.subs[channel]
	if !ok {
		set = make(map[*subscription]struct{})
		b.subs[channel] = set
	}
	set[sub] = struct{}{}
	sub.stop = func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[channel], sub)
		if len(b.subs[channel]) == 0 {
			delete(b.subs, channel)
		}
		return nil
	}
	return sub, nil
}

// Subscribers reports how many live subscriptions a channel has.
func (b *Memory) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

// Close ends every subscription; later calls fail with BrokerUnavailable.
func (b *Memory) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	all := b.subs
	b.subs = make(map[string]map[*subscription]struct{})
	b.mu.Unlock()
	for _, set := range all {
		for s := range set {
			s.end()
		}
	}
	return nil
}
