// Package pgstore stores rooms as JSONB rows in Postgres. Every write
// bumps the row revision and sends pg_notify in the same transaction; a
// pq.Listener turns notifications into watch updates.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/spoker/go/internal/sqlutil"
	"github.com/mcdev12/spoker/go/internal/store"
)

type Config struct {
	DatabaseURL      string        // Postgres DSN, also used for LISTEN
	NotifyChannel    string        // Channel name for room change notifications
	FallbackInterval time.Duration // How often watched rooms are reloaded to catch missed notifications
	PingInterval     time.Duration
}

func DefaultConfig() Config {
	return Config{
		NotifyChannel:    "spoker_rooms",
		FallbackInterval: 30 * time.Second,
		PingInterval:     90 * time.Second,
	}
}

type watcher struct {
	feed *store.Feed
	rev  uint64 // highest revision pushed
}

type Backend struct {
	db       *sql.DB
	queries  *Queries
	listener *pq.Listener
	cfg      Config
	cancel   context.CancelFunc
	done     chan struct{}

	mu       sync.Mutex
	watchers map[string]map[*watcher]struct{}
}

// EnsureSchema creates the rooms table when it is missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create rooms table: %w", err)
	}
	return nil
}

// New starts listening for room notifications on db's server.
func New(db *sql.DB, cfg Config) (*Backend, error) {
	b := &Backend{
		db:       db,
		queries:  NewQueries(db),
		cfg:      cfg,
		done:     make(chan struct{}),
		watchers: make(map[string]map[*watcher]struct{}),
	}

	b.listener = pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		b.onListenerEvent,
	)
	if err := b.listener.Listen(cfg.NotifyChannel); err != nil {
		_ = b.listener.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for room notifications")

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go b.run(ctx)
	return b, nil
}

func (b *Backend) onListenerEvent(ev pq.ListenerEventType, err error) {
	if err != nil {
		log.Error().Err(err).Msg("listener event")
	}
	if ev == pq.ListenerEventDisconnected {
		// Watchers cannot trust their state until resubscribed.
		b.closeWatchers()
	}
}

func (b *Backend) run(ctx context.Context) {
	defer close(b.done)

	pingTicker := time.NewTicker(b.cfg.PingInterval)
	fallbackTicker := time.NewTicker(b.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case note := <-b.listener.Notify:
			if note == nil {
				// Reconnected: notifications may have been lost.
				b.refreshAll(ctx)
				continue
			}
			b.refresh(ctx, note.Extra)
		case <-fallbackTicker.C:
			b.refreshAll(ctx)
		case <-pingTicker.C:
			if err := b.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (b *Backend) refreshAll(ctx context.Context) {
	b.mu.Lock()
	rooms := make([]string, 0, len(b.watchers))
	for roomID := range b.watchers {
		rooms = append(rooms, roomID)
	}
	b.mu.Unlock()

	for _, roomID := range rooms {
		b.refresh(ctx, roomID)
	}
}

// refresh loads roomID and pushes it to its watchers.
func (b *Backend) refresh(ctx context.Context, roomID string) {
	b.mu.Lock()
	watched := len(b.watchers[roomID]) > 0
	b.mu.Unlock()
	if !watched {
		return
	}

	doc, err := b.Load(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to reload room")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for w := range b.watchers[roomID] {
		w.push(doc)
	}
}

func (w *watcher) push(doc store.Document) {
	if doc.Revision < w.rev {
		return
	}
	w.rev = doc.Revision
	w.feed.Push(doc)
}

func (b *Backend) Load(ctx context.Context, roomID string) (store.Document, error) {
	row, err := b.queries.GetRoom(ctx, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, nil
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("get room %s: %w", roomID, err)
	}
	doc := store.Document{Revision: uint64(row.Revision)}
	if row.Doc.Valid {
		doc.Data = row.Doc.RawMessage
	}
	return doc, nil
}

func (b *Backend) Swap(ctx context.Context, roomID string, data []byte, expected uint64) (uint64, error) {
	if data == nil && expected == 0 {
		return 0, nil
	}
	doc := pqtype.NullRawMessage{RawMessage: data, Valid: data != nil}

	var rev int64
	err := sqlutil.Run(ctx, b.db, func(tx *sql.Tx) *Queries { return NewQueries(tx) }, func(q *Queries) error {
		if expected == 0 {
			n, err := q.InsertRoom(ctx, roomID, doc)
			if err != nil {
				return fmt.Errorf("insert room: %w", err)
			}
			if n == 0 {
				return store.ErrConflict
			}
			rev = 1
		} else {
			next, err := q.UpdateRoom(ctx, roomID, doc, int64(expected))
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrConflict
			}
			if err != nil {
				return fmt.Errorf("update room: %w", err)
			}
			rev = next
		}
		return q.NotifyRoom(ctx, b.cfg.NotifyChannel, roomID)
	})
	if err != nil {
		return 0, err
	}
	return uint64(rev), nil
}

func (b *Backend) Watch(ctx context.Context, roomID string) (<-chan store.Document, error) {
	w := &watcher{feed: store.NewFeed()}

	b.mu.Lock()
	if b.watchers[roomID] == nil {
		b.watchers[roomID] = make(map[*watcher]struct{})
	}
	b.watchers[roomID][w] = struct{}{}
	b.mu.Unlock()

	doc, err := b.Load(ctx, roomID)
	if err != nil {
		b.mu.Lock()
		b.drop(roomID, w)
		b.mu.Unlock()
		return nil, err
	}
	b.mu.Lock()
	if _, ok := b.watchers[roomID][w]; ok {
		w.push(doc)
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		b.drop(roomID, w)
	}()
	return w.feed.C(), nil
}

// drop closes w if it is still registered. Callers hold the lock.
func (b *Backend) drop(roomID string, w *watcher) {
	ws := b.watchers[roomID]
	if _, ok := ws[w]; !ok {
		return
	}
	delete(ws, w)
	if len(ws) == 0 {
		delete(b.watchers, roomID)
	}
	w.feed.Close()
}

func (b *Backend) closeWatchers() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for roomID, ws := range b.watchers {
		for w := range ws {
			b.drop(roomID, w)
		}
	}
}

// Close stops the listener and closes open watches. The *sql.DB belongs
// to the caller.
func (b *Backend) Close() error {
	b.cancel()
	<-b.done
	b.closeWatchers()
	return b.listener.Close()
}
