// Package kvstore stores rooms in a NATS JetStream key/value bucket, one
// key per room. Entry revisions provide compare-and-swap and key watchers
// provide the change feed.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/spoker/go/internal/store"
)

type Config struct {
	URL           string
	Bucket        string
	History       uint8 // revisions kept per room
	Storage       jetstream.StorageType
	Replicas      int
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Bucket:        "SPOKER_ROOMS",
		History:       5,
		Storage:       jetstream.FileStorage,
		Replicas:      1,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

type Backend struct {
	nc  *nats.Conn
	kv  jetstream.KeyValue
	cfg Config
}

// New connects to NATS and creates the bucket if it does not exist.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	opts := []nats.Option{
		nats.Name("spoker"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "Planning poker rooms",
		History:     cfg.History,
		Storage:     cfg.Storage,
		Replicas:    cfg.Replicas,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure bucket %s: %w", cfg.Bucket, err)
	}

	log.Info().
		Str("bucket", cfg.Bucket).
		Str("url", nc.ConnectedUrl()).
		Msg("room bucket ready")

	return &Backend{nc: nc, kv: kv, cfg: cfg}, nil
}

// Load returns revision 0 for rooms that were never created or deleted;
// Swap with 0 recreates over a delete marker.
func (b *Backend) Load(ctx context.Context, roomID string) (store.Document, error) {
	entry, err := b.kv.Get(ctx, roomID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return store.Document{}, nil
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("get %s: %w", roomID, err)
	}
	return store.Document{Data: entry.Value(), Revision: entry.Revision()}, nil
}

func (b *Backend) Swap(ctx context.Context, roomID string, data []byte, expected uint64) (uint64, error) {
	var (
		rev uint64
		err error
	)
	switch {
	case data == nil && expected == 0:
		return 0, nil
	case data == nil:
		err = b.kv.Delete(ctx, roomID, jetstream.LastRevision(expected))
	case expected == 0:
		rev, err = b.kv.Create(ctx, roomID, data)
	default:
		rev, err = b.kv.Update(ctx, roomID, data, expected)
	}
	if isConflict(err) {
		return 0, store.ErrConflict
	}
	if err != nil {
		return 0, fmt.Errorf("swap %s: %w", roomID, err)
	}
	return rev, nil
}

func isConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func (b *Backend) Watch(ctx context.Context, roomID string) (<-chan store.Document, error) {
	w, err := b.kv.Watch(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", roomID, err)
	}

	feed := store.NewFeed()
	go func() {
		defer feed.Close()
		defer func() {
			if err := w.Stop(); err != nil {
				log.Debug().Err(err).Str("room_id", roomID).Msg("stop key watcher")
			}
		}()

		initial := true
		seen := false
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-w.Updates():
				if !ok {
					return
				}
				if entry == nil {
					// End of initial values.
					if initial && !seen {
						feed.Push(store.Document{})
					}
					initial = false
					continue
				}
				seen = true
				feed.Push(toDocument(entry))
			}
		}
	}()
	return feed.C(), nil
}

func toDocument(entry jetstream.KeyValueEntry) store.Document {
	switch entry.Operation() {
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		return store.Document{}
	}
	return store.Document{Data: entry.Value(), Revision: entry.Revision()}
}

func (b *Backend) Close() error {
	return b.nc.Drain()
}
