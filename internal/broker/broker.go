// Package broker fans session and lobby events out across server processes.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/tictactoe-live/internal/domain"
	"github.com/park285/tictactoe-live/internal/obslog"
)

// DefaultLobbyChannel is the channel every lobby event is published on.
const DefaultLobbyChannel = "game_cache"

const subscriptionBuffer = 64

// Publisher is the write half, all the registry needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, ev domain.Event) error
}

type Broker interface {
	Publisher
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Close() error
}

// Subscription delivers events for one channel. C is closed when the
// subscription ends, either by Close or by the backend going away.
type Subscription interface {
	C() <-chan domain.Event
	// Next waits up to timeout for one event; nil, nil on timeout.
	Next(ctx context.Context, timeout time.Duration) (*domain.Event, error)
	Close() error
}

// SessionChannel names the per-session channel under lobby.
func SessionChannel(lobby, sessionID string) string {
	if lobby == "" {
		lobby = DefaultLobbyChannel
	}
	return lobby + ".session." + sessionID
}

func unavailable(op string, err error) error {
	return domain.Wrap(domain.CodeBrokerUnavailable, fmt.Errorf("%s: %w", op, err))
}

func encode(ev domain.Event) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, domain.Wrap(domain.CodeOperationFailed, fmt.Errorf("encode event: %w", err))
	}
	return raw, nil
}

// decode reports false for payloads that are not events; callers drop them.
func decode(channel string, raw []byte) (domain.Event, bool) {
	var ev domain.Event
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Type == "" {
		obslog.L().Warn("broker_malformed_event", zap.String("channel", channel), zap.Int("bytes", len(raw)))
		return domain.Event{}, false
	}
	return ev, true
}

// subscription is the channel plumbing shared by all backends.
type subscription struct {
	channel string
	ch      chan domain.Event

	mu     sync.Mutex
	closed bool
	once   sync.Once
	stop   func() error
}

func newSubscription(channel string) *subscription {
	return &subscription{channel: channel, ch: make(chan domain.Event, subscriptionBuffer)}
}

func (s *subscription) C() <-chan domain.Event { return s.ch }

// deliver never blocks the backend's delivery goroutine.
func (s *subscription) deliver(ev domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		obslog.L().Warn("broker_subscription_overflow", zap.String("channel", s.channel), zap.String("type", ev.Type))
	}
}

func (s *subscription) Next(ctx context.Context, timeout time.Duration) (*domain.Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case ev, ok := <-s.ch:
		if !ok {
			return nil, unavailable("next", fmt.Errorf("subscription to %s closed", s.channel))
		}
		return &ev, nil
	}
}

// end closes the event channel without touching the backend.
func (s *subscription) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		if s.stop != nil {
			err = s.stop()
		}
		s.end()
	})
	return err
}
