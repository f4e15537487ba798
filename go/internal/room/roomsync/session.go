// Package roomsync owns one room subscription per client session. It
// turns store snapshots into immutable read models and routes the
// client's intents to the vote controller and presence tracker.
package roomsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/spoker/go/internal/models"
	"github.com/mcdev12/spoker/go/internal/room/aggregate"
	"github.com/mcdev12/spoker/go/internal/room/presence"
	"github.com/mcdev12/spoker/go/internal/room/vote"
	"github.com/mcdev12/spoker/go/internal/store"
)

var (
	ErrNotSynced      = errors.New("room snapshot not received yet")
	ErrAlreadyStarted = errors.New("session already started")
	ErrSessionClosed  = errors.New("session closed")
)

// Subscriber opens path subscriptions. *store.Store implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, path string) (*store.Subscription, error)
}

type Config struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Buffer     int // queued updates per session
}

func DefaultConfig() Config {
	return Config{
		MinBackoff: 250 * time.Millisecond,
		MaxBackoff: 10 * time.Second,
		Buffer:     16,
	}
}

// Snapshot is the read model at one store revision. It must not be
// modified.
type Snapshot struct {
	Room     *models.Room
	Tally    aggregate.Tally
	Revision uint64
}

// Update is one event of the session stream. Exactly one of its fields
// is set. Missing is terminal.
type Update struct {
	Snapshot     *Snapshot
	Disconnected bool
	Missing      bool
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Store    Subscriber
	Votes    *vote.Controller
	Presence *presence.Tracker
	Clock    clockwork.Clock
}

type Session struct {
	roomID string
	uid    string
	guard  presence.Guard
	deps   Deps
	cfg    Config

	updates chan Update
	done    chan struct{}
	cancel  context.CancelFunc

	mu      sync.Mutex
	current *Snapshot
	joined  bool
	started bool
	closed  bool
	err     error
}

// New creates a session for uid in roomID. guard is the client's store
// connection.
func New(roomID, uid string, guard presence.Guard, deps Deps, cfg Config) *Session {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultConfig().Buffer
	}
	return &Session{
		roomID:  roomID,
		uid:     uid,
		guard:   guard,
		deps:    deps,
		cfg:     cfg,
		updates: make(chan Update, cfg.Buffer),
		done:    make(chan struct{}),
	}
}

func (s *Session) RoomID() string { return s.roomID }
func (s *Session) UID() string    { return s.uid }

// Updates is closed when the session stops.
func (s *Session) Updates() <-chan Update {
	return s.updates
}

// Current returns the latest snapshot, or nil before the first one.
func (s *Session) Current() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Err is ErrRoomNotFound once the room is gone.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Start subscribes to the room. The first subscription is made before
// Start returns.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.started:
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	sub, err := s.deps.Store.Subscribe(ctx, store.RoomPath(s.roomID))
	if err != nil {
		s.cancel()
		close(s.updates)
		close(s.done)
		return fmt.Errorf("subscribe to room %s: %w", s.roomID, err)
	}
	go s.run(ctx, sub)
	return nil
}

func (s *Session) run(ctx context.Context, sub *store.Subscription) {
	defer close(s.done)
	defer close(s.updates)

	backoff := s.cfg.MinBackoff
	for {
		missing := s.consume(ctx, sub)
		sub.Close()
		if missing || ctx.Err() != nil {
			return
		}

		log.Warn().
			Err(sub.Err()).
			Str("room_id", s.roomID).
			Str("user_id", s.uid).
			Msg("room subscription dropped")
		if !s.emit(ctx, Update{Disconnected: true}) {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.deps.Clock.After(backoff):
			}
			var err error
			sub, err = s.deps.Store.Subscribe(ctx, store.RoomPath(s.roomID))
			if err == nil {
				backoff = s.cfg.MinBackoff
				break
			}
			log.Error().Err(err).Str("room_id", s.roomID).Dur("backoff", backoff).Msg("resubscribe failed")
			backoff *= 2
			if backoff > s.cfg.MaxBackoff {
				backoff = s.cfg.MaxBackoff
			}
		}
	}
}

// consume forwards snapshots until the subscription ends. It reports
// whether the room went missing.
func (s *Session) consume(ctx context.Context, sub *store.Subscription) bool {
	first := true
	for snap := range sub.Snapshots() {
		if !snap.Exists {
			s.mu.Lock()
			s.err = models.ErrRoomNotFound
			s.current = nil
			s.mu.Unlock()
			log.Info().Str("room_id", s.roomID).Msg("room missing, ending session")
			s.emit(ctx, Update{Missing: true})
			return true
		}

		var room models.Room
		if err := snap.Decode(&room); err != nil {
			log.Error().Err(err).Str("room_id", s.roomID).Msg("undecodable room snapshot")
			continue
		}
		room.ID = s.roomID
		next := &Snapshot{Room: &room, Tally: aggregate.Summarize(&room), Revision: snap.Revision}

		s.mu.Lock()
		s.current = next
		rearm := first && s.joined
		s.mu.Unlock()

		if rearm {
			if _, ok := room.Members[s.uid]; ok {
				if err := s.deps.Presence.Arm(s.guard, s.roomID, s.uid); err != nil {
					log.Error().Err(err).Str("room_id", s.roomID).Str("user_id", s.uid).Msg("failed to re-arm presence guard")
				}
			}
		}
		first = false

		if !s.emit(ctx, Update{Snapshot: next}) {
			return false
		}
	}
	return false
}

func (s *Session) emit(ctx context.Context, u Update) bool {
	select {
	case s.updates <- u:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close stops the session. Pending resubscribes and re-arms are
// abandoned. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	if !started {
		close(s.updates)
		return
	}
	s.cancel()
	<-s.done
}

func (s *Session) snapshot() (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return nil, ErrSessionClosed
	case s.err != nil:
		return nil, s.err
	case s.current == nil:
		return nil, ErrNotSynced
	}
	return s.current.Room, nil
}

// Join enters the room as uid and arms the presence guard.
func (s *Session) Join(ctx context.Context, name string, role models.Role) error {
	room, err := s.snapshot()
	if err != nil {
		return err
	}
	if err := s.deps.Presence.Join(ctx, s.guard, room, s.uid, name, role); err != nil {
		return err
	}
	s.mu.Lock()
	s.joined = true
	s.mu.Unlock()
	return nil
}

// Leave removes uid from the room. It works without a snapshot.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	s.joined = false
	s.mu.Unlock()
	return s.deps.Presence.Leave(ctx, s.guard, s.roomID, s.uid)
}

func (s *Session) CastVote(ctx context.Context, point float64) error {
	room, err := s.snapshot()
	if err != nil {
		return err
	}
	return s.deps.Votes.CastVote(ctx, room, s.uid, point)
}

func (s *Session) Finalize(ctx context.Context, estimate float64) error {
	room, err := s.snapshot()
	if err != nil {
		return err
	}
	return s.deps.Votes.Finalize(ctx, room, s.uid, estimate)
}

func (s *Session) Reset(ctx context.Context) error {
	room, err := s.snapshot()
	if err != nil {
		return err
	}
	return s.deps.Votes.Reset(ctx, room, s.uid)
}

func (s *Session) Enqueue(ctx context.Context, task models.Task) (models.Task, error) {
	room, err := s.snapshot()
	if err != nil {
		return models.Task{}, err
	}
	return s.deps.Votes.Enqueue(ctx, room, s.uid, task)
}

func (s *Session) ClearQueue(ctx context.Context) error {
	room, err := s.snapshot()
	if err != nil {
		return err
	}
	return s.deps.Votes.ClearQueue(ctx, room, s.uid)
}

func (s *Session) ReorderQueue(ctx context.Context, ids []string) error {
	room, err := s.snapshot()
	if err != nil {
		return err
	}
	return s.deps.Votes.ReorderQueue(ctx, room, s.uid, ids)
}

func (s *Session) RemoveQueued(ctx context.Context, taskID string) error {
	room, err := s.snapshot()
	if err != nil {
		return err
	}
	return s.deps.Votes.RemoveQueued(ctx, room, s.uid, taskID)
}

func (s *Session) UpdateConfig(ctx context.Context, cfg models.RoomConfig) error {
	room, err := s.snapshot()
	if err != nil {
		return err
	}
	return s.deps.Votes.UpdateConfig(ctx, room, s.uid, cfg)
}
