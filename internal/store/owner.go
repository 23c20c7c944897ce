package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockBusy is returned by Lock when another holder owns the lock.
var ErrLockBusy = errors.New("lock busy")

// deletes KEYS[1] only while it still holds ARGV[1]
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Owner returns the session id recorded for userID, "" if none.
func (s *Redis) Owner(ctx context.Context, userID string) (string, error) {
	v, err := s.rdb.Get(ctx, s.keyOwner(userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", unavailable("owner", err)
	}
	return v, nil
}

func (s *Redis) SetOwner(ctx context.Context, userID, sessionID string) error {
	if err := s.rdb.Set(ctx, s.keyOwner(userID), sessionID, s.ttl).Err(); err != nil {
		return unavailable("set owner", err)
	}
	return nil
}

// ClearOwner drops the owner entry only if it still points at sessionID, so a
// late close of an old session never clears the entry of a newer one.
func (s *Redis) ClearOwner(ctx context.Context, userID, sessionID string) error {
	if err := compareAndDelete.Run(ctx, s.rdb, []string{s.keyOwner(userID)}, sessionID).Err(); err != nil {
		return unavailable("clear owner", err)
	}
	return nil
}

// Lock takes a named lock shared by every process. The returned func releases
// it; the lock also lapses after ttl if the holder dies.
func (s *Redis) Lock(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	key := s.keyLock(name)
	token := uuid.NewString()
	ok, err := s.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, unavailable("lock", err)
	}
	if !ok {
		return nil, ErrLockBusy
	}
	return func() {
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = compareAndDelete.Run(rctx, s.rdb, []string{key}, token).Err()
	}, nil
}
