package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/park285/tictactoe-live/internal/domain"
)

// NATS carries events over NATS subjects. Channel names are used as subjects
// unchanged.
type NATS struct{ conn *nats.Conn }

// NewNATS connects with automatic reconnection. Extra options are appended
// to the defaults.
func NewNATS(url string, opts ...nats.Option) (*NATS, error) {
	defaults := []nats.Option{
		nats.Name("tttd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, unavailable("connect", fmt.Errorf("nats at %s: %w", url, err))
	}
	return &NATS{conn: nc}, nil
}

func (b *NATS) Publish(ctx context.Context, channel string, ev domain.Event) error {
	raw, err := encode(ev)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(channel, raw); err != nil {
		return unavailable("publish", err)
	}
	return nil
}

func (b *NATS) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	sub := newSubscription(channel)
	ns, err := b.conn.Subscribe(channel, func(msg *nats.Msg) {
		if ev, ok := decode(channel, msg.Data); ok {
			sub.deliver(ev)
		}
	})
	if err != nil {
		return nil, unavailable("subscribe", err)
	}
	// the subscription must be registered server-side before we report ready
	if err := b.conn.Flush(); err != nil {
		_ = ns.Unsubscribe()
		return nil, unavailable("flush", err)
	}
	sub.stop = ns.Unsubscribe
	return sub, nil
}

func (b *NATS) Close() error {
	b.conn.Close()
	return nil
}
