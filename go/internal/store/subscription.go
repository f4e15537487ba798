package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Snapshot is the value of a subscribed subtree at a revision.
type Snapshot struct {
	Path     string
	Exists   bool
	Raw      json.RawMessage // JSON of the subtree, nil when absent
	Revision uint64
}

// Decode unmarshals the subtree into v.
func (s Snapshot) Decode(v any) error {
	if !s.Exists {
		return fmt.Errorf("decode %s: %w", s.Path, ErrNotFound)
	}
	return json.Unmarshal(s.Raw, v)
}

func snapshotAt(path string, segs []string, doc Document) (Snapshot, error) {
	snap := Snapshot{Path: path, Revision: doc.Revision}
	if !doc.Exists() {
		return snap, nil
	}
	var root any
	if err := json.Unmarshal(doc.Data, &root); err != nil {
		return snap, fmt.Errorf("decode %s: %w", path, err)
	}
	v, ok := lookup(root, segs)
	if !ok {
		return snap, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return snap, fmt.Errorf("encode %s: %w", path, err)
	}
	snap.Exists = true
	snap.Raw = raw
	return snap, nil
}

// Subscription streams snapshots of one subtree. A snapshot is emitted
// for the initial state and afterwards only when the subtree changed.
type Subscription struct {
	path   string
	ch     chan Snapshot
	cancel context.CancelFunc

	mu     sync.Mutex
	err    error
	closed bool
	once   sync.Once
}

// Subscribe starts watching an absolute path.
func (s *Store) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	roomID, segs, err := ParsePath(path)
	if err != nil {
		return nil, err
	}

	wctx, cancel := context.WithCancel(ctx)
	docs, err := s.backend.Watch(wctx, roomID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch %s: %w", roomID, err)
	}

	sub := &Subscription{
		path:   path,
		ch:     make(chan Snapshot, 16),
		cancel: cancel,
	}
	go sub.run(ctx, wctx, segs, docs)
	return sub, nil
}

// Snapshots returns the stream. It is closed when the subscription ends.
func (sub *Subscription) Snapshots() <-chan Snapshot {
	return sub.ch
}

// Path returns the subscribed path.
func (sub *Subscription) Path() string {
	return sub.path
}

// Err reports why the stream ended. It is nil after Close.
func (sub *Subscription) Err() error {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.err
}

// Close stops the subscription. It is safe to call more than once.
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		sub.mu.Lock()
		sub.closed = true
		sub.mu.Unlock()
		sub.cancel()
	})
}

func (sub *Subscription) run(parent, ctx context.Context, segs []string, docs <-chan Document) {
	defer close(sub.ch)
	defer sub.cancel()

	var last *Snapshot
	for {
		select {
		case <-ctx.Done():
			sub.finish(parent, nil)
			return
		case doc, ok := <-docs:
			if !ok {
				sub.finish(parent, ErrWatchClosed)
				return
			}
			snap, err := snapshotAt(sub.path, segs, doc)
			if err != nil {
				log.Error().Err(err).Str("path", sub.path).Msg("dropping undecodable document")
				continue
			}
			if last != nil && last.Exists == snap.Exists && bytes.Equal(last.Raw, snap.Raw) {
				continue
			}
			last = &snap
			select {
			case sub.ch <- snap:
			case <-ctx.Done():
				sub.finish(parent, nil)
				return
			}
		}
	}
}

func (sub *Subscription) finish(parent context.Context, cause error) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	switch {
	case sub.closed:
		sub.err = nil
	case parent.Err() != nil:
		sub.err = parent.Err()
	case cause != nil:
		sub.err = cause
	}
	if sub.err != nil {
		log.Warn().Err(sub.err).Str("path", sub.path).Msg("subscription ended")
	}
}
