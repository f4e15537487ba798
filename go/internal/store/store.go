// Package store is a replicated JSON tree of rooms addressed by
// rooms/{roomId}/... paths. It provides atomic multi-path conditional
// writes, subtree subscriptions and per-connection disconnect hooks on
// top of a pluggable Backend.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/spoker/go/internal/models"
)

// Config tunes the write path.
type Config struct {
	MaxRetries int // compare-and-swap attempts before giving up
}

func DefaultConfig() Config {
	return Config{MaxRetries: 16}
}

// Store applies writes to a Backend with optimistic concurrency.
type Store struct {
	backend Backend
	cfg     Config
}

func New(backend Backend, cfg Config) *Store {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	return &Store{backend: backend, cfg: cfg}
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Create stores doc as a new room. It fails with ErrExists when the room
// is already present.
func (s *Store) Create(ctx context.Context, roomID string, doc any) error {
	if err := models.ValidateRoomID(roomID); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPath, err)
	}
	tree, err := normalize(doc)
	if err != nil {
		return fmt.Errorf("create %s: %w", roomID, err)
	}
	if tree == nil {
		tree = map[string]any{}
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("create %s: %w", roomID, err)
	}

	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		cur, err := s.backend.Load(ctx, roomID)
		if err != nil {
			return fmt.Errorf("load %s: %w", roomID, err)
		}
		if cur.Exists() {
			return ErrExists
		}
		rev, err := s.backend.Swap(ctx, roomID, data, cur.Revision)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("create %s: %w", roomID, err)
		}
		log.Debug().Str("room_id", roomID).Uint64("revision", rev).Msg("room created")
		return nil
	}
	return fmt.Errorf("create %s: %w", roomID, ErrConflict)
}

// Get reads the value at an absolute path.
func (s *Store) Get(ctx context.Context, path string) (Snapshot, error) {
	roomID, segs, err := ParsePath(path)
	if err != nil {
		return Snapshot{}, err
	}
	doc, err := s.backend.Load(ctx, roomID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s: %w", roomID, err)
	}
	return snapshotAt(path, segs, doc)
}

// Apply performs w atomically. It never creates a room: a missing room
// fails with ErrNotFound. A requirement that does not hold fails with
// ErrPrecondition.
func (s *Store) Apply(ctx context.Context, w Write) error {
	p, err := w.prepare()
	if err != nil {
		return err
	}

	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		cur, err := s.backend.Load(ctx, w.Room)
		if err != nil {
			return fmt.Errorf("load %s: %w", w.Room, err)
		}
		if !cur.Exists() {
			return ErrNotFound
		}
		var root any
		if err := json.Unmarshal(cur.Data, &root); err != nil {
			return fmt.Errorf("decode %s: %w", w.Room, err)
		}
		root, err = p.apply(root)
		if err != nil {
			return err
		}
		data, err := json.Marshal(root)
		if err != nil {
			return fmt.Errorf("encode %s: %w", w.Room, err)
		}

		rev, err := s.backend.Swap(ctx, w.Room, data, cur.Revision)
		if errors.Is(err, ErrConflict) {
			log.Debug().
				Str("room_id", w.Room).
				Int("attempt", attempt+1).
				Msg("revision conflict, retrying write")
			continue
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", w.Room, err)
		}
		log.Debug().Str("room_id", w.Room).Uint64("revision", rev).Int("paths", len(p.sets)).Msg("write applied")
		return nil
	}
	return fmt.Errorf("write %s after %d attempts: %w", w.Room, s.cfg.MaxRetries, ErrConflict)
}

// Delete removes a room. Deleting a missing room is a no-op.
func (s *Store) Delete(ctx context.Context, roomID string) error {
	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		cur, err := s.backend.Load(ctx, roomID)
		if err != nil {
			return fmt.Errorf("load %s: %w", roomID, err)
		}
		if !cur.Exists() {
			return nil
		}
		if _, err := s.backend.Swap(ctx, roomID, nil, cur.Revision); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			return fmt.Errorf("delete %s: %w", roomID, err)
		}
		log.Debug().Str("room_id", roomID).Msg("room deleted")
		return nil
	}
	return fmt.Errorf("delete %s: %w", roomID, ErrConflict)
}
