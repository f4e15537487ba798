// Package presence keeps users/{uid} entries in step with live client
// connections.
package presence

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/spoker/go/internal/models"
	"github.com/mcdev12/spoker/go/internal/store"
)

// Writer applies room writes.
type Writer interface {
	Apply(ctx context.Context, w store.Write) error
}

// Guard holds disconnect hooks for one client connection. *store.Conn
// implements it.
type Guard interface {
	OnDisconnect(key string, w store.Write) error
	Cancel(key string)
}

type Tracker struct {
	store Writer
}

func NewTracker(w Writer) *Tracker {
	return &Tracker{store: w}
}

// GuardKey names the disconnect hook of uid in roomID.
func GuardKey(roomID, uid string) string {
	return "presence/" + roomID + "/" + uid
}

func removal(roomID, uid string) store.Write {
	return store.Write{
		Room: roomID,
		Set:  map[string]any{store.Join("users", uid): nil},
	}
}

// Join writes uid's entry, replacing any earlier one, and arms the guard.
// Only one connected uid may hold the owner role.
func (t *Tracker) Join(ctx context.Context, guard Guard, room *models.Room, uid, name string, role models.Role) error {
	if !role.Valid() {
		return models.ErrInvalidRole
	}
	if uid == "" {
		return models.ErrUnauthorized
	}
	if err := models.ValidateUID(uid); err != nil {
		return err
	}

	connected := true
	var reservedBy string
	w := store.Write{
		Room: room.ID,
		Set: map[string]any{
			store.Join("users", uid): models.RoomUser{Name: name, Role: role, IsConnected: &connected},
		},
	}
	if role == models.RoleOwner {
		if owner, ok := room.OwnerUID(); ok && owner != uid {
			// A creator that never joined only reserves the role; the
			// claim replaces the reservation.
			if room.Members[owner].Connected() {
				return models.ErrOwnerTaken
			}
			w.Set[store.Join("users", owner)] = nil
			reservedBy = owner
		}
		// Nobody may have claimed the role since room was read.
		w.Require = map[string]any{"users": room.Members}
	}

	err := t.store.Apply(ctx, w)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return models.ErrRoomNotFound
	case errors.Is(err, store.ErrPrecondition):
		return fmt.Errorf("join: %w", models.ErrStaleTask)
	case err != nil:
		return fmt.Errorf("join: %w", err)
	}

	if reservedBy != "" {
		log.Info().
			Str("room_id", room.ID).
			Str("user_id", uid).
			Str("reserved_by", reservedBy).
			Msg("owner reservation taken over")
	}
	log.Info().
		Str("room_id", room.ID).
		Str("user_id", uid).
		Str("role", string(role)).
		Msg("user joined")
	return t.Arm(guard, room.ID, uid)
}

// Arm registers the hook removing uid when the connection ends. Arming
// again replaces the previous hook.
func (t *Tracker) Arm(guard Guard, roomID, uid string) error {
	if err := guard.OnDisconnect(GuardKey(roomID, uid), removal(roomID, uid)); err != nil {
		return fmt.Errorf("arm presence guard: %w", err)
	}
	log.Debug().Str("room_id", roomID).Str("user_id", uid).Msg("presence guard armed")
	return nil
}

// Leave disarms the guard and removes uid. Leaving twice, or leaving a
// deleted room, is a no-op.
func (t *Tracker) Leave(ctx context.Context, guard Guard, roomID, uid string) error {
	if err := models.ValidateUID(uid); err != nil {
		return err
	}
	guard.Cancel(GuardKey(roomID, uid))

	err := t.store.Apply(ctx, removal(roomID, uid))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("leave: %w", err)
	}
	log.Info().Str("room_id", roomID).Str("user_id", uid).Msg("user left")
	return nil
}
