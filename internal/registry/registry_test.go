package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/tictactoe-live/internal/broker"
	"github.com/park285/tictactoe-live/internal/domain"
	"github.com/park285/tictactoe-live/internal/game"
	"github.com/park285/tictactoe-live/internal/store"
	"github.com/park285/tictactoe-live/pkg/wire"
)

func newStore(t *testing.T) *store.Redis {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return store.NewRedis(rdb)
}

func alice() domain.Principal { return domain.Principal{ID: "A", Username: "alice"} }
func bob() domain.Principal   { return domain.Principal{ID: "B", Username: "bob"} }

func TestCreateJoinPlayExample(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	reg := New(st, broker.NewMemory())

	s, err := reg.Create(ctx, alice(), "", domain.MarkerX)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.Status != domain.StatusWaiting || s.FirstPlayer.Marker != domain.MarkerX {
		t.Fatalf("unexpected session %+v", s)
	}
	joined, err := reg.Join(ctx, bob(), s.ID)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if joined.Status != domain.StatusActive || joined.SecondPlayer == nil || joined.SecondPlayer.Marker != domain.MarkerO {
		t.Fatalf("B should be SECOND on an ACTIVE session: %+v", joined)
	}

	var out game.Outcome
	for i, c := range []int{0, 1, 3, 4, 6} {
		who := "A"
		if i%2 == 1 {
			who = "B"
		}
		_, err := st.Update(ctx, s.ID, func(cur *domain.Session) error {
			next, o, err := game.ApplyMove(*cur, who, c)
			if err != nil {
				return err
			}
			*cur, out = next, o
			return nil
		})
		if err != nil {
			t.Fatalf("move %d: %v", c, err)
		}
	}
	final, _ := reg.Get(ctx, s.ID)
	if out.Kind != game.Win || out.Winner != "A" || final.Status != domain.StatusFinished {
		t.Fatalf("expected WIN(A), got %+v / %+v", out, final)
	}

	if err := reg.Finish(ctx, final); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, err := reg.Create(ctx, alice(), "rematch", domain.MarkerO); err != nil {
		t.Fatalf("creator should be free after finish: %v", err)
	}
}

func TestCreateRejectsSecondLiveSession(t *testing.T) {
	ctx := context.Background()
	reg := New(newStore(t), broker.NewMemory())
	if _, err := reg.Create(ctx, alice(), "one", domain.MarkerX); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := reg.Create(ctx, alice(), "two", domain.MarkerX); !errors.Is(err, domain.ErrAlreadyHasSession) {
		t.Fatalf("expected AlreadyHasSession, got %v", err)
	}
	if _, err := reg.Create(ctx, alice(), "bad", domain.Marker("Z")); !errors.Is(err, domain.ErrBadRequest) {
		t.Fatalf("expected BadRequest for invalid marker, got %v", err)
	}
}

func TestConcurrentCreateAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	// two registries over one store behave like two server processes
	regs := []*Registry{New(st, broker.NewMemory()), New(st, broker.NewMemory())}

	const n = 12
	var (
		wg  sync.WaitGroup
		ok  atomic.Int32
		dup atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := regs[i%2].Create(ctx, alice(), fmt.Sprintf("g%d", i), domain.MarkerX)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrAlreadyHasSession):
				dup.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if ok.Load() != 1 || dup.Load() != n-1 {
		t.Fatalf("expected exactly one create, got ok=%d dup=%d", ok.Load(), dup.Load())
	}
	list, _ := regs[0].List(ctx)
	if len(list) != 1 {
		t.Fatalf("expected one waiting session, got %d", len(list))
	}
}

func TestRacingJoinersExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	reg := New(newStore(t), broker.NewMemory())
	s, _ := reg.Create(ctx, alice(), "", domain.MarkerX)

	const n = 10
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := domain.Principal{ID: fmt.Sprintf("u%d", i), Username: fmt.Sprintf("user%d", i)}
			_, err := reg.Join(ctx, p, s.ID)
			if err == nil {
				winners.Add(1)
				return
			}
			if !errors.Is(err, domain.ErrSessionNotFound) {
				t.Errorf("loser got %v", err)
			}
		}(i)
	}
	wg.Wait()
	if winners.Load() != 1 {
		t.Fatalf("expected one winner, got %d", winners.Load())
	}
	if _, err := reg.Join(ctx, bob(), s.ID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("join on ACTIVE session: %v", err)
	}
}

func TestJoinRejections(t *testing.T) {
	ctx := context.Background()
	reg := New(newStore(t), broker.NewMemory())
	s, _ := reg.Create(ctx, alice(), "", domain.MarkerO)

	if _, err := reg.Join(ctx, alice(), s.ID); !errors.Is(err, domain.ErrSelfJoin) {
		t.Fatalf("expected SelfJoin, got %v", err)
	}
	if _, err := reg.Join(ctx, bob(), "missing"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected SessionNotFound, got %v", err)
	}
	joined, err := reg.Join(ctx, bob(), s.ID)
	if err != nil || joined.SecondPlayer.Marker != domain.MarkerX {
		t.Fatalf("joiner takes the remaining marker: %+v, %v", joined, err)
	}
}

func TestCloseIsIdempotentAndCreatorOnly(t *testing.T) {
	ctx := context.Background()
	reg := New(newStore(t), broker.NewMemory())
	s, _ := reg.Create(ctx, alice(), "", domain.MarkerX)
	_, _ = reg.Join(ctx, bob(), s.ID)

	if ok, err := reg.Close(ctx, s.ID, "B"); ok || err != nil {
		t.Fatalf("non-creator close = %v, %v", ok, err)
	}
	if ok, err := reg.Close(ctx, s.ID, "A"); !ok || err != nil {
		t.Fatalf("close = %v, %v", ok, err)
	}
	if ok, err := reg.Close(ctx, s.ID, "A"); ok || err != nil {
		t.Fatalf("second close = %v, %v", ok, err)
	}
	if _, err := reg.Create(ctx, alice(), "", domain.MarkerX); err != nil {
		t.Fatalf("creator should be free after close: %v", err)
	}
}

func TestStaleOwnerEntryIsCleared(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	reg := New(st, broker.NewMemory())
	_ = st.SetOwner(ctx, "A", "expired-session")
	if _, err := reg.Create(ctx, alice(), "", domain.MarkerX); err != nil {
		t.Fatalf("stale owner entry blocked create: %v", err)
	}
}

func TestEventsPublished(t *testing.T) {
	ctx := context.Background()
	mem := broker.NewMemory()
	sub, _ := mem.Subscribe(ctx, broker.DefaultLobbyChannel)
	defer sub.Close()
	reg := New(newStore(t), mem, WithOrigin("proc-1"), WithIDGenerator(func() string { return "s1" }))

	_, _ = reg.Create(ctx, alice(), "", domain.MarkerX)
	_, _ = reg.Join(ctx, bob(), "s1")
	_, _ = reg.Close(ctx, "s1", "A")

	want := []string{domain.EventSessionAdded, domain.EventSessionJoined, domain.EventGameInvite, domain.EventSessionDeleted}
	for _, typ := range want {
		ev, err := sub.Next(ctx, time.Second)
		if err != nil || ev == nil {
			t.Fatalf("missing %s: %v", typ, err)
		}
		if ev.Type != typ || ev.SessionID != "s1" || ev.Origin != "proc-1" {
			t.Fatalf("got %+v, want %s", ev, typ)
		}
		if typ == domain.EventGameInvite {
			var inv wire.GameInvite
			_ = json.Unmarshal(ev.Payload, &inv)
			if ev.Target != "A" || inv.Target.ID != "A" || inv.Sender.ID != "B" {
				t.Fatalf("invite should target the creator: %+v %+v", ev, inv)
			}
		}
	}
}

func TestLocalFallbackWhenBrokerDown(t *testing.T) {
	ctx := context.Background()
	mem := broker.NewMemory()
	_ = mem.Close()
	var got []string
	reg := New(newStore(t), mem, WithLocalFallback(func(ev domain.Event) { got = append(got, ev.Type) }))
	if _, err := reg.Create(ctx, alice(), "", domain.MarkerX); err != nil {
		t.Fatalf("create must succeed without a broker: %v", err)
	}
	if len(got) != 1 || got[0] != domain.EventSessionAdded {
		t.Fatalf("expected local delivery, got %v", got)
	}
}

func TestStoreOutageSurfacesOperationFailed(t *testing.T) {
	ctx := context.Background()
	mr, _ := miniredis.Run()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	reg := New(store.NewRedis(rdb), broker.NewMemory())
	mr.Close()

	_, err := reg.Create(ctx, alice(), "", domain.MarkerX)
	if domain.CodeOf(err) != domain.CodeOperationFailed || !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected OperationFailed wrapping StoreUnavailable, got %v", err)
	}
}
