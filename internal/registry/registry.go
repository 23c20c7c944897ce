// Package registry owns session lifecycle: create, join, close. All state
// lives in the shared store; the registry itself can be replicated freely.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/tictactoe-live/internal/adapter/wirepresenter"
	"github.com/park285/tictactoe-live/internal/broker"
	"github.com/park285/tictactoe-live/internal/domain"
	"github.com/park285/tictactoe-live/internal/obslog"
	"github.com/park285/tictactoe-live/internal/store"
	"github.com/park285/tictactoe-live/pkg/wire"
)

// Store is the subset of the session store the registry uses.
type Store interface {
	Put(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	Delete(ctx context.Context, id string) (bool, error)
	ListActive(ctx context.Context) ([]domain.Session, error)
	Update(ctx context.Context, id string, fn func(*domain.Session) error) (*domain.Session, error)
	Owner(ctx context.Context, userID string) (string, error)
	SetOwner(ctx context.Context, userID, sessionID string) error
	ClearOwner(ctx context.Context, userID, sessionID string) error
	Lock(ctx context.Context, name string, ttl time.Duration) (func(), error)
}

const (
	lockTTL      = 5 * time.Second
	lockWait     = 3 * time.Second
	lockInterval = 20 * time.Millisecond
)

type Registry struct {
	store   Store
	pub     broker.Publisher
	channel string
	origin  string
	local   func(domain.Event)
	newID   func() string
	now     func() time.Time
	wait    time.Duration
	users   keyedMutex
}

type Option func(*Registry)

// WithChannel sets the lobby channel events are published on.
func WithChannel(ch string) Option { return func(r *Registry) { r.channel = ch } }

// WithOrigin tags published events with the process id.
func WithOrigin(id string) Option { return func(r *Registry) { r.origin = id } }

// WithLocalFallback delivers events in-process when publishing fails.
func WithLocalFallback(fn func(domain.Event)) Option { return func(r *Registry) { r.local = fn } }

func WithIDGenerator(fn func() string) Option { return func(r *Registry) { r.newID = fn } }

func WithClock(fn func() time.Time) Option { return func(r *Registry) { r.now = fn } }

// WithLockWait bounds how long Create waits for a competing create of the
// same user held by another process.
func WithLockWait(d time.Duration) Option { return func(r *Registry) { r.wait = d } }

func New(st Store, pub broker.Publisher, opts ...Option) *Registry {
	r := &Registry{
		store:   st,
		pub:     pub,
		channel: broker.DefaultLobbyChannel,
		newID:   uuid.NewString,
		now:     time.Now,
		wait:    lockWait,
		users:   keyedMutex{locks: make(map[string]*refLock)},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Create makes a WAITING session owned by p. A user holds at most one
// WAITING or ACTIVE session at a time, across all processes.
func (r *Registry) Create(ctx context.Context, p domain.Principal, name string, marker domain.Marker) (*domain.Session, error) {
	if strings.TrimSpace(p.ID) == "" {
		return nil, domain.ErrBadRequest
	}
	if marker == domain.Empty {
		marker = domain.MarkerX
	}
	if !marker.Valid() {
		return nil, fmt.Errorf("%w: marker %q", domain.ErrBadRequest, marker)
	}

	unlock := r.users.Lock(p.ID)
	defer unlock()
	release, err := r.acquire(ctx, "user:"+p.ID)
	if err != nil {
		return nil, r.fail("create", p.ID, err)
	}
	defer release()

	owned, err := r.store.Owner(ctx, p.ID)
	if err != nil {
		return nil, r.fail("create", p.ID, err)
	}
	if owned != "" {
		cur, err := r.store.Get(ctx, owned)
		if err != nil {
			return nil, r.fail("create", p.ID, err)
		}
		if cur != nil && cur.Live() {
			return nil, domain.ErrAlreadyHasSession
		}
		// snapshot expired or game over
		if err := r.store.ClearOwner(ctx, p.ID, owned); err != nil {
			return nil, r.fail("create", p.ID, err)
		}
	}

	s := domain.NewSession(r.newID(), name, p, marker, r.now())
	if err := r.store.Put(ctx, &s); err != nil {
		return nil, r.fail("create", p.ID, err)
	}
	if err := r.store.SetOwner(ctx, p.ID, s.ID); err != nil {
		if _, derr := r.store.Delete(ctx, s.ID); derr != nil {
			obslog.L().Warn("registry_create_rollback_error", zap.String("session_id", s.ID), zap.Error(derr))
		}
		return nil, r.fail("create", p.ID, err)
	}

	obslog.L().Info("session_create",
		zap.String("session_id", s.ID),
		zap.String("user_id", p.ID),
		zap.String("marker", string(marker)),
	)
	r.publish(ctx, domain.EventSessionAdded, s.ID, "", wire.SessionAdded{
		Type:    wire.TypeSessionAdded,
		Session: wirepresenter.ToSnapshot(s),
	})
	return &s, nil
}

// Join seats p as the second participant. Exactly one of any number of
// concurrent joiners wins; the rest see SessionNotFound.
func (r *Registry) Join(ctx context.Context, p domain.Principal, sessionID string) (*domain.Session, error) {
	if strings.TrimSpace(p.ID) == "" {
		return nil, domain.ErrBadRequest
	}
	s, err := r.store.Update(ctx, sessionID, func(cur *domain.Session) error {
		if cur.Status != domain.StatusWaiting || cur.SecondPlayer != nil {
			return domain.ErrSessionNotFound
		}
		if cur.FirstPlayer.ID == p.ID {
			return domain.ErrSelfJoin
		}
		cur.SecondPlayer = &domain.Participant{
			ID:       p.ID,
			Username: p.Username,
			Marker:   cur.FirstPlayer.Marker.Other(),
		}
		cur.Status = domain.StatusActive
		cur.UpdatedAt = r.now().UTC()
		return nil
	})
	if err != nil {
		if domain.IsClientError(domain.CodeOf(err)) {
			return nil, err
		}
		return nil, r.fail("join", p.ID, err)
	}

	obslog.L().Info("session_join",
		zap.String("session_id", s.ID),
		zap.String("user_id", p.ID),
		zap.String("creator_id", s.FirstPlayer.ID),
	)
	r.publish(ctx, domain.EventSessionJoined, s.ID, "", wire.SessionJoined{Type: wire.TypeSessionJoined, SessionID: s.ID})
	r.publish(ctx, domain.EventGameInvite, s.ID, s.FirstPlayer.ID, wire.GameInvite{
		Type:      wire.TypeGameInvite,
		SessionID: s.ID,
		Target:    wirepresenter.ToPlayer(s.FirstPlayer),
		Sender:    wirepresenter.ToPlayer(*s.SecondPlayer),
	})
	return s, nil
}

// Close deletes the session if requesterID created it. It returns false when
// the session is absent or owned by someone else; repeated calls are safe.
func (r *Registry) Close(ctx context.Context, sessionID, requesterID string) (bool, error) {
	s, err := r.store.Get(ctx, sessionID)
	if err != nil {
		return false, r.fail("close", requesterID, err)
	}
	if s == nil || !s.IsCreator(requesterID) {
		return false, nil
	}
	deleted, err := r.store.Delete(ctx, sessionID)
	if err != nil {
		return false, r.fail("close", requesterID, err)
	}
	if !deleted {
		// lost the race with another close
		return false, nil
	}
	if err := r.store.ClearOwner(ctx, requesterID, sessionID); err != nil {
		// Create treats an owner entry without a snapshot as stale
		obslog.L().Warn("registry_clear_owner_error", zap.String("session_id", sessionID), zap.Error(err))
	}
	obslog.L().Info("session_close", zap.String("session_id", sessionID), zap.String("user_id", requesterID))
	r.publish(ctx, domain.EventSessionDeleted, sessionID, "", wire.SessionDeleted{Type: wire.TypeSessionDeleted, SessionID: sessionID})
	return true, nil
}

// Finish releases the creator's one-session slot once a game is over. The
// snapshot itself stays until it is closed or expires.
func (r *Registry) Finish(ctx context.Context, s *domain.Session) error {
	if s == nil || s.Status != domain.StatusFinished {
		return nil
	}
	if err := r.store.ClearOwner(ctx, s.FirstPlayer.ID, s.ID); err != nil {
		return r.fail("finish", s.FirstPlayer.ID, err)
	}
	obslog.L().Info("session_finish", zap.String("session_id", s.ID), zap.String("winner", s.Winner))
	return nil
}

func (r *Registry) Get(ctx context.Context, id string) (*domain.Session, error) {
	s, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, r.fail("get", "", err)
	}
	return s, nil
}

// List returns the joinable sessions.
func (r *Registry) List(ctx context.Context) ([]domain.Session, error) {
	list, err := r.store.ListActive(ctx)
	if err != nil {
		return nil, r.fail("list", "", err)
	}
	return list, nil
}

// acquire takes the cross-process lock, polling while another process holds it.
func (r *Registry) acquire(ctx context.Context, name string) (func(), error) {
	deadline := time.Now().Add(r.wait)
	for {
		release, err := r.store.Lock(ctx, name, lockTTL)
		if err == nil {
			return release, nil
		}
		if !errors.Is(err, store.ErrLockBusy) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("lock %s: %w", name, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockInterval):
		}
	}
}

// fail logs an unexpected fault and converts it to OperationFailed, keeping
// the cause in the chain.
func (r *Registry) fail(op, userID string, err error) error {
	obslog.L().Error("registry_"+op+"_error", zap.String("user_id", userID), zap.Error(err))
	return domain.Wrap(domain.CodeOperationFailed, err)
}

// publish never fails the caller: state is already committed to the store.
func (r *Registry) publish(ctx context.Context, typ, sessionID, target string, frame any) {
	raw, err := json.Marshal(frame)
	if err != nil {
		obslog.L().Error("registry_encode_error", zap.String("type", typ), zap.Error(err))
		return
	}
	ev := domain.Event{Type: typ, SessionID: sessionID, Target: target, Origin: r.origin, Payload: raw}
	if r.pub != nil {
		err = r.pub.Publish(ctx, r.channel, ev)
		if err == nil {
			return
		}
		obslog.L().Warn("registry_publish_error", zap.String("type", typ), zap.String("session_id", sessionID), zap.Error(err))
	}
	if r.local != nil {
		r.local(ev)
	}
}
