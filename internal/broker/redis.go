package broker

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/park285/tictactoe-live/internal/domain"
)

// Redis uses PUBLISH/SUBSCRIBE on the same instance that holds the store.
type Redis struct{ rdb *redis.Client }

func NewRedis(rdb *redis.Client) *Redis { return &Redis{rdb: rdb} }

func (b *Redis) Publish(ctx context.Context, channel string, ev domain.Event) error {
	raw, err := encode(ev)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		return unavailable("publish", err)
	}
	return nil
}

// Subscribe returns once the server has confirmed the subscription.
func (b *Redis) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := b.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, unavailable("subscribe", err)
	}
	sub := newSubscription(channel)
	sub.stop = ps.Close
	msgs := ps.Channel()
	go func() {
		defer sub.end()
		for msg := range msgs {
			if ev, ok := decode(channel, []byte(msg.Payload)); ok {
				sub.deliver(ev)
			}
		}
	}()
	return sub, nil
}

// Close is a no-op; the client belongs to the store.
func (b *Redis) Close() error { return nil }
