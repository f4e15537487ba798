// Package memstore is an in-process store.Backend.
package memstore

import (
	"context"
	"sync"

	"github.com/mcdev12/spoker/go/internal/store"
)

type entry struct {
	data     []byte
	revision uint64
}

// watcher feeds are only pushed to under the backend lock.
type watcher struct {
	feed *store.Feed
}

// Backend keeps room documents in memory.
type Backend struct {
	mu       sync.Mutex
	rev      uint64
	docs     map[string]entry
	watchers map[string]map[*watcher]struct{}
	closed   bool
}

func New() *Backend {
	return &Backend{
		docs:     make(map[string]entry),
		watchers: make(map[string]map[*watcher]struct{}),
	}
}

func (b *Backend) current(roomID string) store.Document {
	e := b.docs[roomID]
	var data []byte
	if e.data != nil {
		data = append([]byte(nil), e.data...)
	}
	return store.Document{Data: data, Revision: e.revision}
}

func (b *Backend) Load(_ context.Context, roomID string) (store.Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return store.Document{}, store.ErrClosed
	}
	return b.current(roomID), nil
}

func (b *Backend) Swap(_ context.Context, roomID string, data []byte, expected uint64) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, store.ErrClosed
	}
	if b.docs[roomID].revision != expected {
		return 0, store.ErrConflict
	}

	b.rev++
	e := entry{revision: b.rev}
	if data != nil {
		e.data = append([]byte(nil), data...)
	}
	b.docs[roomID] = e

	for w := range b.watchers[roomID] {
		w.feed.Push(b.current(roomID))
	}
	return e.revision, nil
}

func (b *Backend) Watch(ctx context.Context, roomID string) (<-chan store.Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, store.ErrClosed
	}

	w := &watcher{feed: store.NewFeed()}
	if b.watchers[roomID] == nil {
		b.watchers[roomID] = make(map[*watcher]struct{})
	}
	b.watchers[roomID][w] = struct{}{}
	w.feed.Push(b.current(roomID))

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

// Interrupt closes every open watch as if the feed had been lost.
func (b *Backend) Interrupt() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for roomID, ws := range b.watchers {
		for w := range ws {
			b.drop(roomID, w)
		}
	}
}

// Watchers returns the number of open watches on roomID.
func (b *Backend) Watchers(roomID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.watchers[roomID])
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	for roomID, ws := range b.watchers {
		for w := range ws {
			b.drop(roomID, w)
		}
	}
	b.closed = true
	return nil
}
