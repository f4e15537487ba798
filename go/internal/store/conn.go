package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Conn is one client's connection to the store. Writes registered with
// OnDisconnect run once when the connection ends.
type Conn struct {
	id    string
	store *Store

	mu     sync.Mutex
	hooks  map[string]Write
	closed bool
}

// Connect opens a connection scope for disconnect hooks.
func (s *Store) Connect() *Conn {
	return &Conn{
		id:    uuid.NewString(),
		store: s,
		hooks: make(map[string]Write),
	}
}

func (c *Conn) ID() string {
	return c.id
}

// Store returns the store the connection belongs to.
func (c *Conn) Store() *Store {
	return c.store
}

// OnDisconnect registers w under key, replacing any earlier hook with the
// same key.
func (c *Conn) OnDisconnect(key string, w Write) error {
	if _, err := w.prepare(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	c.hooks[key] = w
	return nil
}

// Cancel drops the hook registered under key, if any.
func (c *Conn) Cancel(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.hooks, key)
}

// Armed reports whether a hook is registered under key.
func (c *Conn) Armed(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.hooks[key]
	return ok
}

// Disconnect closes the connection and applies the remaining hooks in key
// order. Hooks targeting a room that no longer exists are skipped. Calling
// it again is a no-op.
func (c *Conn) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	hooks := c.hooks
	c.hooks = nil
	c.mu.Unlock()

	keys := make([]string, 0, len(hooks))
	for k := range hooks {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, k := range keys {
		err := c.store.Apply(ctx, hooks[k])
		switch {
		case err == nil:
			log.Debug().Str("connection_id", c.id).Str("hook", k).Msg("disconnect hook applied")
		case errors.Is(err, ErrNotFound):
		default:
			log.Error().Err(err).Str("connection_id", c.id).Str("hook", k).Msg("disconnect hook failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
