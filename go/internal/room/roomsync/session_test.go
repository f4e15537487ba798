package roomsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/spoker/go/internal/models"
	"github.com/mcdev12/spoker/go/internal/room/presence"
	"github.com/mcdev12/spoker/go/internal/room/vote"
	"github.com/mcdev12/spoker/go/internal/store"
	"github.com/mcdev12/spoker/go/internal/store/memstore"
)

type env struct {
	backend *memstore.Backend
	store   *store.Store
	clock   *clockwork.FakeClock
	deps    Deps
}

func newEnv(t *testing.T) *env {
	t.Helper()
	b := memstore.New()
	s := store.New(b, store.DefaultConfig())
	t.Cleanup(func() { _ = s.Close() })
	clock := clockwork.NewFakeClock()

	ctrl := vote.NewController(s, clock, vote.DefaultConfig())
	if _, err := ctrl.CreateRoom(context.Background(), "r1",
		models.RoomInfo{Name: "Sprint"},
		models.RoomConfig{HideLabel: models.HideLabelCow},
		models.Task{ID: "T1", Name: "Task 1"},
		models.RoomUser{UID: "o", Name: "Olive"},
	); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	return &env{
		backend: b,
		store:   s,
		clock:   clock,
		deps: Deps{
			Store:    s,
			Votes:    ctrl,
			Presence: presence.NewTracker(s),
			Clock:    clock,
		},
	}
}

func (e *env) start(t *testing.T, uid string, conn *store.Conn) *Session {
	t.Helper()
	sess := New("r1", uid, conn, e.deps, DefaultConfig())
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(sess.Close)
	return sess
}

func next(t *testing.T, sess *Session) Update {
	t.Helper()
	select {
	case u, ok := <-sess.Updates():
		if !ok {
			t.Fatal("updates closed")
		}
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
	}
	return Update{}
}

// waitFor returns the first snapshot satisfying ok.
func waitFor(t *testing.T, sess *Session, ok func(*Snapshot) bool) *Snapshot {
	t.Helper()
	for {
		u := next(t, sess)
		if u.Snapshot != nil && ok(u.Snapshot) {
			return u.Snapshot
		}
	}
}

func hasUser(uid string) func(*Snapshot) bool {
	return func(s *Snapshot) bool {
		_, ok := s.Room.Members[uid]
		return ok
	}
}

func TestSnapshotsCarryTally(t *testing.T) {
	e := newEnv(t)
	conn := e.store.Connect()
	sess := e.start(t, "a", conn)
	ctx := context.Background()

	first := waitFor(t, sess, func(*Snapshot) bool { return true })
	if first.Room.ID != "r1" || first.Room.Task.ID != "T1" || first.Tally.Phase != models.PhaseVoting {
		t.Fatalf("first snapshot = %+v", first)
	}

	if err := sess.Join(ctx, "Ana", models.RoleParticipant); err != nil {
		t.Fatalf("Join: %v", err)
	}
	waitFor(t, sess, hasUser("a"))
	if err := sess.CastVote(ctx, 5); err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	snap := waitFor(t, sess, func(s *Snapshot) bool { return s.Tally.ShowVote })
	if snap.Tally.Phase != models.PhaseRevealed || snap.Tally.Highest != 5 || snap.Tally.Voted != 1 {
		t.Fatalf("tally = %+v", snap.Tally)
	}
	if sess.Current() != snap {
		t.Fatal("Current() is not the latest snapshot")
	}
}

func TestResubscribeReArmsGuard(t *testing.T) {
	e := newEnv(t)
	conn := e.store.Connect()
	sess := e.start(t, "a", conn)
	ctx := context.Background()

	waitFor(t, sess, func(*Snapshot) bool { return true })
	if err := sess.Join(ctx, "Ana", models.RoleParticipant); err != nil {
		t.Fatal(err)
	}
	waitFor(t, sess, hasUser("a"))

	key := presence.GuardKey("r1", "a")
	conn.Cancel(key)
	e.backend.Interrupt()

	if u := next(t, sess); !u.Disconnected {
		t.Fatalf("expected disconnected update, got %+v", u)
	}
	bctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := e.clock.BlockUntilContext(bctx, 1); err != nil {
		t.Fatalf("backoff timer not started: %v", err)
	}
	e.clock.Advance(DefaultConfig().MinBackoff)

	snap := waitFor(t, sess, hasUser("a"))
	if snap.Room.Members["a"].Name != "Ana" {
		t.Fatalf("snapshot after resubscribe = %+v", snap.Room.Members)
	}
	if !conn.Armed(key) {
		t.Fatal("guard not re-armed after resubscribe")
	}
}

func TestRoomDeletionIsTerminal(t *testing.T) {
	e := newEnv(t)
	sess := e.start(t, "a", e.store.Connect())

	waitFor(t, sess, func(*Snapshot) bool { return true })
	if err := e.store.Delete(context.Background(), "r1"); err != nil {
		t.Fatal(err)
	}
	if u := next(t, sess); !u.Missing {
		t.Fatalf("expected missing update, got %+v", u)
	}
	if _, ok := <-sess.Updates(); ok {
		t.Fatal("updates should close after missing")
	}
	if !errors.Is(sess.Err(), models.ErrRoomNotFound) {
		t.Fatalf("Err() = %v", sess.Err())
	}
	if err := sess.CastVote(context.Background(), 3); !errors.Is(err, models.ErrRoomNotFound) {
		t.Fatalf("intent after missing = %v", err)
	}
}

func TestMissingAtSubscribe(t *testing.T) {
	e := newEnv(t)
	sess := New("nope", "a", e.store.Connect(), e.deps, DefaultConfig())
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sess.Close()

	if u := next(t, sess); !u.Missing {
		t.Fatalf("expected missing update, got %+v", u)
	}
}

func TestIntentsBeforeSync(t *testing.T) {
	e := newEnv(t)
	sess := New("r1", "a", e.store.Connect(), e.deps, DefaultConfig())
	if err := sess.CastVote(context.Background(), 3); !errors.Is(err, ErrNotSynced) {
		t.Fatalf("got %v, want ErrNotSynced", err)
	}
	sess.Close()
	if err := sess.Start(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("Start after Close = %v", err)
	}
}

func TestCloseIsIdempotentDuringBackoff(t *testing.T) {
	e := newEnv(t)
	sess := e.start(t, "a", e.store.Connect())

	waitFor(t, sess, func(*Snapshot) bool { return true })
	if err := sess.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start = %v", err)
	}

	e.backend.Interrupt()
	if u := next(t, sess); !u.Disconnected {
		t.Fatalf("expected disconnected update, got %+v", u)
	}

	done := make(chan struct{})
	go func() {
		sess.Close()
		sess.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked while waiting to resubscribe")
	}
	if e.backend.Watchers("r1") != 0 {
		t.Fatal("watch left open after Close")
	}
}

func TestOwnerIntentsDelegate(t *testing.T) {
	e := newEnv(t)
	conn := e.store.Connect()
	sess := e.start(t, "o", conn)
	ctx := context.Background()

	waitFor(t, sess, func(*Snapshot) bool { return true })
	if err := sess.Join(ctx, "Olive", models.RoleOwner); err != nil {
		t.Fatalf("owner Join: %v", err)
	}
	waitFor(t, sess, func(s *Snapshot) bool { return s.Room.Members["o"].Connected() })

	task, err := sess.Enqueue(ctx, models.Task{Name: "Task 2"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, sess, func(s *Snapshot) bool { return len(s.Room.Queue) == 1 })

	if err := sess.UpdateConfig(ctx, models.RoomConfig{HideLabel: models.HideLabelThink}); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	waitFor(t, sess, func(s *Snapshot) bool { return s.Room.Config.HideLabel == models.HideLabelThink })

	if err := sess.RemoveQueued(ctx, task.ID); err != nil {
		t.Fatalf("RemoveQueued: %v", err)
	}
	waitFor(t, sess, func(s *Snapshot) bool { return len(s.Room.Queue) == 0 })

	if err := sess.Leave(ctx); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	waitFor(t, sess, func(s *Snapshot) bool { return !hasUser("o")(s) })
	if conn.Armed(presence.GuardKey("r1", "o")) {
		t.Fatal("guard armed after Leave")
	}
}
