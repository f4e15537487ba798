// Package redisstore keeps each room as a JSON string next to a revision
// counter. Writes use WATCH/MULTI and announce themselves on a per-room
// pub/sub channel.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/spoker/go/internal/store"
)

type Config struct {
	KeyPrefix        string
	FallbackInterval time.Duration // reload period covering pub/sub reconnect gaps
}

func DefaultConfig() Config {
	return Config{
		KeyPrefix:        "spoker:room:",
		FallbackInterval: 30 * time.Second,
	}
}

type Backend struct {
	rc  *redis.Client
	cfg Config
}

// New wraps rc. The client is closed by Close.
func New(rc *redis.Client, cfg Config) *Backend {
	return &Backend{rc: rc, cfg: cfg}
}

func (b *Backend) docKey(roomID string) string {
	return b.cfg.KeyPrefix + roomID
}

func (b *Backend) revKey(roomID string) string {
	return b.cfg.KeyPrefix + roomID + ":rev"
}

func (b *Backend) channel(roomID string) string {
	return b.cfg.KeyPrefix + roomID + ":changed"
}

func (b *Backend) Load(ctx context.Context, roomID string) (store.Document, error) {
	vals, err := b.rc.MGet(ctx, b.docKey(roomID), b.revKey(roomID)).Result()
	if err != nil {
		return store.Document{}, fmt.Errorf("load %s: %w", roomID, err)
	}

	var doc store.Document
	if s, ok := vals[0].(string); ok {
		doc.Data = []byte(s)
	}
	if s, ok := vals[1].(string); ok {
		rev, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return store.Document{}, fmt.Errorf("parse revision of %s: %w", roomID, err)
		}
		doc.Revision = rev
	}
	return doc, nil
}

func (b *Backend) Swap(ctx context.Context, roomID string, data []byte, expected uint64) (uint64, error) {
	if data == nil && expected == 0 {
		return 0, nil
	}
	docKey, revKey := b.docKey(roomID), b.revKey(roomID)
	var next *redis.IntCmd

	err := b.rc.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, revKey).Uint64()
		if errors.Is(err, redis.Nil) {
			cur = 0
		} else if err != nil {
			return err
		}
		if cur != expected {
			return store.ErrConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if data == nil {
				pipe.Del(ctx, docKey)
			} else {
				pipe.Set(ctx, docKey, data, 0)
			}
			next = pipe.Incr(ctx, revKey)
			pipe.Publish(ctx, b.channel(roomID), expected+1)
			return nil
		})
		return err
	}, docKey, revKey)

	switch {
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, store.ErrConflict):
		return 0, store.ErrConflict
	case err != nil:
		return 0, fmt.Errorf("swap %s: %w", roomID, err)
	}
	return uint64(next.Val()), nil
}

func (b *Backend) Watch(ctx context.Context, roomID string) (<-chan store.Document, error) {
	sub := b.rc.Subscribe(ctx, b.channel(roomID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", roomID, err)
	}

	doc, err := b.Load(ctx, roomID)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}

	feed := store.NewFeed()
	feed.Push(doc)
	last := doc.Revision

	go func() {
		defer feed.Close()
		defer sub.Close()

		ticker := time.NewTicker(b.cfg.FallbackInterval)
		defer ticker.Stop()
		msgs := sub.Channel()

		reload := func() {
			doc, err := b.Load(ctx, roomID)
			if err != nil {
				log.Error().Err(err).Str("room_id", roomID).Msg("failed to reload room")
				return
			}
			if doc.Revision <= last {
				return
			}
			last = doc.Revision
			feed.Push(doc)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				reload()
			case <-ticker.C:
				reload()
			}
		}
	}()
	return feed.C(), nil
}

func (b *Backend) Close() error {
	return b.rc.Close()
}
