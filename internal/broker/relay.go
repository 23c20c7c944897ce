package broker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/park285/tictactoe-live/internal/domain"
	"github.com/park285/tictactoe-live/internal/obslog"
)

const (
	relayMinBackoff = 250 * time.Millisecond
	relayMaxBackoff = 10 * time.Second
)

// Relay keeps one channel subscribed for the life of a context, handing
// every event to Handle. It resubscribes after errors or subscription loss.
type Relay struct {
	Broker  Broker
	Channel string
	Handle  func(domain.Event)

	// OnSubscribed, if set, runs each time a subscription becomes live.
	OnSubscribed func()
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
}

// Run blocks until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	lo, hi := r.MinBackoff, r.MaxBackoff
	if lo <= 0 {
		lo = relayMinBackoff
	}
	if hi < lo {
		hi = relayMaxBackoff
	}
	delay := lo
	for ctx.Err() == nil {
		sub, err := r.Broker.Subscribe(ctx, r.Channel)
		if err != nil {
			obslog.L().Warn("broker_subscribe_error", zap.String("channel", r.Channel), zap.Duration("retry_in", delay), zap.Error(err))
			if !sleep(ctx, delay) {
				return
			}
			delay = min(delay*2, hi)
			continue
		}
		delay = lo
		if r.OnSubscribed != nil {
			r.OnSubscribed()
		}
		r.consume(ctx, sub)
		_ = sub.Close()
		if ctx.Err() == nil {
			obslog.L().Warn("broker_subscription_lost", zap.String("channel", r.Channel))
			if !sleep(ctx, delay) {
				return
			}
		}
	}
}

func (r *Relay) consume(ctx context.Context, sub Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			r.dispatch(ev)
		}
	}
}

// dispatch isolates handler panics so one bad event cannot stop the relay.
func (r *Relay) dispatch(ev domain.Event) {
	defer func() {
		if p := recover(); p != nil {
			obslog.L().Error("broker_handler_panic", zap.String("channel", r.Channel), zap.String("type", ev.Type), zap.Any("panic", p))
		}
	}()
	r.Handle(ev)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
