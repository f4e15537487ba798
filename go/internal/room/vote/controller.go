// Package vote implements the per-task vote lifecycle. Every operation
// validates against the caller's read model and issues one conditional
// multi-path write; the outcome is observed through the room
// subscription, not through the return value.
package vote

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/spoker/go/internal/models"
	"github.com/mcdev12/spoker/go/internal/room/aggregate"
	"github.com/mcdev12/spoker/go/internal/store"
)

// Writer is the part of the store the controller mutates rooms through.
type Writer interface {
	Create(ctx context.Context, roomID string, doc any) error
	Apply(ctx context.Context, w store.Write) error
}

type Config struct {
	// StrictReveal requires the revealed phase before Finalize.
	StrictReveal bool
}

func DefaultConfig() Config {
	return Config{StrictReveal: true}
}

type Controller struct {
	store Writer
	clock clockwork.Clock
	cfg   Config
}

func NewController(w Writer, clock clockwork.Clock, cfg Config) *Controller {
	return &Controller{store: w, clock: clock, cfg: cfg}
}

// apply issues w and maps store failures onto domain errors.
func (c *Controller) apply(ctx context.Context, op string, w store.Write) error {
	err := c.store.Apply(ctx, w)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrPrecondition):
		log.Debug().Err(err).Str("room_id", w.Room).Str("op", op).Msg("stale read model")
		return fmt.Errorf("%s: %w", op, models.ErrStaleTask)
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%s: %w", op, models.ErrRoomNotFound)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func requireOwner(room *models.Room, actorUID string) error {
	if !room.IsOwner(actorUID) {
		return models.ErrUnauthorized
	}
	return nil
}

func pointPath(uid string) string {
	return store.Join("users", uid, "point")
}

// CreateRoom stores a new room with firstTask as its current task and
// owner as its only member. The owner entry stays disconnected until the
// owner joins.
func (c *Controller) CreateRoom(ctx context.Context, roomID string, info models.RoomInfo, cfg models.RoomConfig, firstTask models.Task, owner models.RoomUser) (*models.Room, error) {
	if err := models.ValidateRoomID(roomID); err != nil {
		return nil, err
	}
	if owner.UID == "" {
		return nil, models.ErrUnauthorized
	}
	if err := models.ValidateUID(owner.UID); err != nil {
		return nil, err
	}
	if cfg.HideLabel == "" {
		cfg.HideLabel = models.HideLabelMonkey
	}
	if !cfg.HideLabel.Valid() {
		return nil, models.ErrInvalidHideLabel
	}
	if err := firstTask.Validate(); err != nil {
		return nil, err
	}
	if firstTask.ID == "" {
		firstTask.ID = uuid.NewString()
	}
	firstTask.LastVoted = nil

	offline := false
	room := &models.Room{
		ID:     roomID,
		Config: cfg,
		Info:   info,
		Task:   firstTask,
		Members: map[string]models.RoomUser{
			owner.UID: {Name: owner.Name, Role: models.RoleOwner, IsConnected: &offline},
		},
	}

	err := c.store.Create(ctx, roomID, room)
	if errors.Is(err, store.ErrExists) {
		return nil, models.ErrRoomExists
	}
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}

	log.Info().
		Str("room_id", roomID).
		Str("user_id", owner.UID).
		Str("task_id", firstTask.ID).
		Msg("room created")
	return room, nil
}

// CastVote records uid's point for the current task. The write only lands
// while the task it was cast for is still current and unfinalized.
func (c *Controller) CastVote(ctx context.Context, room *models.Room, uid string, point float64) error {
	if err := models.ValidatePoint(point); err != nil {
		return err
	}
	user, ok := room.User(uid)
	if !ok {
		return models.ErrStaleRole
	}
	if room.Task.IsFinalized() {
		return models.ErrTaskFinalized
	}
	tally := aggregate.Summarize(room)
	if tally.Phase == models.PhaseRevealed && room.Config.IsFreezeAfterVote {
		log.Debug().Str("room_id", room.ID).Str("user_id", uid).Msg("vote rejected after reveal")
		return models.ErrFrozenVote
	}

	namePath := store.Join("users", uid, "name")
	return c.apply(ctx, "cast vote", store.Write{
		Room: room.ID,
		Set: map[string]any{
			pointPath(uid):   point,
			"task/lastVoted": models.LastVoted{Name: user.Name, Time: c.clock.Now().UTC()},
		},
		Require: map[string]any{
			"task/id":         room.Task.ID,
			"task/estimation": nil,
			namePath:          user.Name,
		},
	})
}

// Finalize records estimate for the current task, moves it to completed,
// advances the queue and clears every point, all in one write. With an
// empty queue the finalized task stays current.
func (c *Controller) Finalize(ctx context.Context, room *models.Room, actorUID string, estimate float64) error {
	if err := requireOwner(room, actorUID); err != nil {
		return err
	}
	if err := models.ValidatePoint(estimate); err != nil {
		return err
	}
	if room.Task.IsFinalized() {
		return models.ErrTaskFinalized
	}
	if c.cfg.StrictReveal && aggregate.Summarize(room).Phase != models.PhaseRevealed {
		return models.ErrNotRevealed
	}

	users := room.Users()
	done := room.Task.Clone()
	done.Estimation = &estimate
	done.PointEntries = make([]models.PointEntry, 0, len(users))
	for _, u := range users {
		var p float64
		if u.Point != nil {
			p = *u.Point
		}
		done.PointEntries = append(done.PointEntries, models.PointEntry{Name: u.Name, Point: p})
	}

	next := done
	var rest []models.Task
	if len(room.Queue) > 0 {
		next = room.Queue[0]
		rest = room.Queue[1:]
	}

	slot := store.Join("completed", fmt.Sprint(len(room.Completed)))
	set := map[string]any{
		slot:    done,
		"task":  next,
		"queue": rest,
	}
	for _, u := range users {
		set[pointPath(u.UID)] = nil
	}

	err := c.apply(ctx, "finalize", store.Write{
		Room: room.ID,
		Set:  set,
		Require: map[string]any{
			"task/id":         room.Task.ID,
			"task/estimation": nil,
			"queue":           room.Queue,
			"users":           room.Members,
			slot:              nil,
		},
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("room_id", room.ID).
		Str("task_id", done.ID).
		Float64("estimation", estimate).
		Int("queued", len(rest)).
		Msg("task finalized")
	return nil
}

// Reset clears every cast point without touching history.
func (c *Controller) Reset(ctx context.Context, room *models.Room, actorUID string) error {
	if err := requireOwner(room, actorUID); err != nil {
		return err
	}
	set := make(map[string]any)
	for _, u := range room.Users() {
		if u.HasVoted() {
			set[pointPath(u.UID)] = nil
		}
	}
	if len(set) == 0 {
		return nil
	}
	return c.apply(ctx, "reset", store.Write{
		Room:    room.ID,
		Set:     set,
		Require: map[string]any{"task/id": room.Task.ID},
	})
}

// Enqueue appends task to the queue and returns it with its id assigned.
// In the finalized phase there is no current task to vote on, so the new
// task becomes current instead.
func (c *Controller) Enqueue(ctx context.Context, room *models.Room, actorUID string, task models.Task) (models.Task, error) {
	if err := requireOwner(room, actorUID); err != nil {
		return models.Task{}, err
	}
	if err := task.Validate(); err != nil {
		return models.Task{}, err
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.LastVoted = nil

	var w store.Write
	if room.Task.IsFinalized() {
		w = store.Write{
			Room: room.ID,
			Set:  map[string]any{"task": task},
			Require: map[string]any{
				"task/id":         room.Task.ID,
				"task/estimation": *room.Task.Estimation,
			},
		}
	} else {
		// The slot index is only valid for the queue it was computed from.
		w = store.Write{
			Room:    room.ID,
			Set:     map[string]any{store.Join("queue", fmt.Sprint(len(room.Queue))): task},
			Require: map[string]any{"queue": room.Queue},
		}
	}
	if err := c.apply(ctx, "enqueue", w); err != nil {
		return models.Task{}, err
	}
	return task, nil
}

// ClearQueue drops every queued task.
func (c *Controller) ClearQueue(ctx context.Context, room *models.Room, actorUID string) error {
	if err := requireOwner(room, actorUID); err != nil {
		return err
	}
	if len(room.Queue) == 0 {
		return nil
	}
	return c.apply(ctx, "clear queue", store.Write{
		Room: room.ID,
		Set:  map[string]any{"queue": nil},
	})
}

// ReorderQueue rewrites the queue in the order of ids, which must name
// every queued task exactly once.
func (c *Controller) ReorderQueue(ctx context.Context, room *models.Room, actorUID string, ids []string) error {
	if err := requireOwner(room, actorUID); err != nil {
		return err
	}
	if len(ids) != len(room.Queue) {
		return models.ErrTaskNotQueued
	}
	byID := make(map[string]models.Task, len(room.Queue))
	for _, t := range room.Queue {
		byID[t.ID] = t
	}
	reordered := make([]models.Task, 0, len(ids))
	for _, id := range ids {
		t, ok := byID[id]
		if !ok {
			return models.ErrTaskNotQueued
		}
		delete(byID, id)
		reordered = append(reordered, t)
	}
	if len(reordered) == 0 {
		return nil
	}
	return c.apply(ctx, "reorder queue", store.Write{
		Room:    room.ID,
		Set:     map[string]any{"queue": reordered},
		Require: map[string]any{"queue": room.Queue},
	})
}

// RemoveQueued drops one task from the queue.
func (c *Controller) RemoveQueued(ctx context.Context, room *models.Room, actorUID, taskID string) error {
	if err := requireOwner(room, actorUID); err != nil {
		return err
	}
	remaining := make([]models.Task, 0, len(room.Queue))
	for _, t := range room.Queue {
		if t.ID != taskID {
			remaining = append(remaining, t)
		}
	}
	if len(remaining) == len(room.Queue) {
		return models.ErrTaskNotQueued
	}
	return c.apply(ctx, "remove task", store.Write{
		Room:    room.ID,
		Set:     map[string]any{"queue": remaining},
		Require: map[string]any{"queue": room.Queue},
	})
}

// UpdateConfig replaces the room's voting configuration.
func (c *Controller) UpdateConfig(ctx context.Context, room *models.Room, actorUID string, cfg models.RoomConfig) error {
	if err := requireOwner(room, actorUID); err != nil {
		return err
	}
	if !cfg.HideLabel.Valid() {
		return models.ErrInvalidHideLabel
	}
	return c.apply(ctx, "update config", store.Write{
		Room: room.ID,
		Set:  map[string]any{"config": cfg},
	})
}
