package store

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/park285/tictactoe-live/internal/domain"
)

// Presence is a sorted set per session: member = participant id,
// score = expiry in unix ms. Expired members are pruned on every write so a
// crashed process cannot hold a slot past the presence TTL.

func (s *Redis) expiry() float64 {
	return float64(s.now().Add(s.presenceTTL).UnixMilli())
}

func (s *Redis) nowScore() string { return strconv.FormatInt(s.now().UnixMilli(), 10) }

// AttachPresence reserves a slot for userID across all processes.
func (s *Redis) AttachPresence(ctx context.Context, sessionID, userID string, max int) error {
	key := s.keyPresence(sessionID)
	return s.watch(ctx, "attach presence", func(tx *redis.Tx) error {
		live, err := tx.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "(" + s.nowScore(), Max: "+inf"}).Result()
		if err != nil {
			return err
		}
		for _, m := range live {
			if m == userID {
				return domain.ErrAlreadyConnected
			}
		}
		if len(live) >= max {
			return domain.ErrCapacityExceeded
		}
		pipe := tx.TxPipeline()
		pipe.ZRemRangeByScore(ctx, key, "-inf", s.nowScore())
		pipe.ZAdd(ctx, key, redis.Z{Score: s.expiry(), Member: userID})
		pipe.Expire(ctx, key, s.ttl)
		_, err = pipe.Exec(ctx)
		return err
	}, key)
}

// DetachPresence releases userID's slot and returns how many live entries
// remain. Detaching an absent member is a no-op.
func (s *Redis) DetachPresence(ctx context.Context, sessionID, userID string) (int64, error) {
	key := s.keyPresence(sessionID)
	pipe := s.rdb.TxPipeline()
	pipe.ZRem(ctx, key, userID)
	pipe.ZRemRangeByScore(ctx, key, "-inf", s.nowScore())
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, unavailable("detach presence", err)
	}
	return card.Val(), nil
}

// RefreshPresence pushes userID's expiry forward. It never re-creates an
// entry that was already released.
func (s *Redis) RefreshPresence(ctx context.Context, sessionID, userID string) error {
	key := s.keyPresence(sessionID)
	if err := s.rdb.ZAddXX(ctx, key, redis.Z{Score: s.expiry(), Member: userID}).Err(); err != nil {
		return unavailable("refresh presence", err)
	}
	return nil
}

// PresenceCount returns the number of live entries.
func (s *Redis) PresenceCount(ctx context.Context, sessionID string) (int64, error) {
	n, err := s.rdb.ZCount(ctx, s.keyPresence(sessionID), "("+s.nowScore(), "+inf").Result()
	if err != nil {
		return 0, unavailable("presence count", err)
	}
	return n, nil
}
