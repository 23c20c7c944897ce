// Package store persists session snapshots, owner entries and presence in Redis.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/tictactoe-live/internal/domain"
	"github.com/park285/tictactoe-live/internal/obslog"
)

const (
	defaultPrefix      = "ttt:"
	defaultTTL         = 24 * time.Hour
	defaultPresenceTTL = 90 * time.Second
	maxCASRetries      = 16
)

// Redis is the shared SessionStore. Every process of the pool talks to the
// same instance; nothing is cached locally.
type Redis struct {
	rdb         *redis.Client
	prefix      string
	ttl         time.Duration
	presenceTTL time.Duration
	now         func() time.Time
}

type Option func(*Redis)

func WithPrefix(p string) Option { return func(s *Redis) { s.prefix = p } }

// WithTTL sets the retention window of snapshots and owner entries.
func WithTTL(d time.Duration) Option {
	return func(s *Redis) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithPresenceTTL sets how long a presence entry survives without refresh.
func WithPresenceTTL(d time.Duration) Option {
	return func(s *Redis) {
		if d > 0 {
			s.presenceTTL = d
		}
	}
}

func WithClock(now func() time.Time) Option { return func(s *Redis) { s.now = now } }

func NewRedis(rdb *redis.Client, opts ...Option) *Redis {
	s := &Redis{rdb: rdb, prefix: defaultPrefix, ttl: defaultTTL, presenceTTL: defaultPresenceTTL, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open dials redisURL (redis:// or rediss://) and verifies it with PING.
func Open(ctx context.Context, redisURL string, opts ...Option) (*Redis, error) {
	u := strings.TrimSpace(redisURL)
	if u == "" {
		return nil, errors.New("redis url is empty")
	}
	ropts, err := redis.ParseURL(u)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(ropts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, unavailable("ping", err)
	}
	return NewRedis(rdb, opts...), nil
}

// Client exposes the underlying connection so the broker can share it.
func (s *Redis) Client() *redis.Client { return s.rdb }

func (s *Redis) Close() error { return s.rdb.Close() }

func (s *Redis) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *Redis) keySession(id string) string {
	return s.prefix + "session:" + strings.TrimSpace(id)
}

func (s *Redis) keyPresence(id string) string { return s.keySession(id) + ":conns" }

func (s *Redis) keyIndex() string { return s.prefix + "sessions" }

func (s *Redis) keyOwner(userID string) string {
	return s.prefix + "owner:" + strings.TrimSpace(userID)
}

func (s *Redis) keyLock(name string) string {
	return s.prefix + "lock:" + strings.TrimSpace(name)
}

func unavailable(op string, err error) error {
	return domain.Wrap(domain.CodeStoreUnavailable, fmt.Errorf("%s: %w", op, err))
}

func decode(raw []byte) (*domain.Session, error) {
	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, domain.Wrap(domain.CodeOperationFailed, fmt.Errorf("decode snapshot: %w", err))
	}
	return &sess, nil
}

// Put writes the snapshot and resets its expiry.
func (s *Redis) Put(ctx context.Context, sess *domain.Session) error {
	if sess == nil || strings.TrimSpace(sess.ID) == "" {
		return domain.ErrBadRequest
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return domain.Wrap(domain.CodeOperationFailed, err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.keySession(sess.ID), raw, s.ttl)
	pipe.SAdd(ctx, s.keyIndex(), sess.ID)
	pipe.Expire(ctx, s.keyIndex(), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("put", err)
	}
	return nil
}

// Get returns nil, nil when the session does not exist.
func (s *Redis) Get(ctx context.Context, id string) (*domain.Session, error) {
	raw, err := s.rdb.Get(ctx, s.keySession(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return decode(raw)
}

// Delete removes the snapshot and its presence set. It reports whether a
// snapshot was actually removed; deleting an absent session is not an error.
func (s *Redis) Delete(ctx context.Context, id string) (bool, error) {
	pipe := s.rdb.TxPipeline()
	del := pipe.Del(ctx, s.keySession(id))
	pipe.Del(ctx, s.keyPresence(id))
	pipe.SRem(ctx, s.keyIndex(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, unavailable("delete", err)
	}
	return del.Val() > 0, nil
}

// ListActive enumerates WAITING sessions ordered by creation time. Ids whose
// snapshot has expired are pruned from the index as a side effect.
func (s *Redis) ListActive(ctx context.Context) ([]domain.Session, error) {
	ids, err := s.rdb.SMembers(ctx, s.keyIndex()).Result()
	if err != nil {
		return nil, unavailable("list", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.keySession(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable("list", err)
	}
	var (
		out   []domain.Session
		stale []any
	)
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		sess, err := decode([]byte(str))
		if err != nil {
			obslog.L().Warn("store_snapshot_corrupt", zap.String("session_id", ids[i]), zap.Error(err))
			continue
		}
		if sess.Status == domain.StatusWaiting {
			out = append(out, *sess)
		}
	}
	if len(stale) > 0 {
		if err := s.rdb.SRem(ctx, s.keyIndex(), stale...).Err(); err != nil {
			obslog.L().Warn("store_index_prune_error", zap.Error(err))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Update runs fn against the current snapshot under WATCH and writes the
// result back atomically. fn may run more than once under contention and
// must not have side effects beyond the session it is given. Errors returned
// by fn abort the update and are passed through unchanged.
func (s *Redis) Update(ctx context.Context, id string, fn func(*domain.Session) error) (*domain.Session, error) {
	key := s.keySession(id)
	var out *domain.Session
	err := s.watch(ctx, "update", func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return domain.ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		cur, err := decode(raw)
		if err != nil {
			return err
		}
		if err := fn(cur); err != nil {
			return err
		}
		newRaw, err := json.Marshal(cur)
		if err != nil {
			return domain.Wrap(domain.CodeOperationFailed, err)
		}
		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, newRaw, s.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		out = cur
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// watch retries fn while another client wins the race on keys.
func (s *Redis) watch(ctx context.Context, op string, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxCASRetries; i++ {
		err := s.rdb.Watch(ctx, fn, keys...)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		var de *domain.Error
		if errors.As(err, &de) {
			return err
		}
		return unavailable(op, err)
	}
	return domain.Wrap(domain.CodeOperationFailed, fmt.Errorf("%s: too much contention on %s", op, strings.Join(keys, ",")))
}
