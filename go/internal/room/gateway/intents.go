package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcdev12/spoker/go/internal/models"
	"github.com/mcdev12/spoker/go/internal/room/roomsync"
	"github.com/mcdev12/spoker/go/internal/store"
)

// ClientIntent is a client to server message. Fields beyond Type and
// RequestID are read according to Type.
type ClientIntent struct {
	Type      string             `json:"type"`
	RequestID string             `json:"request_id,omitempty"`
	Name      string             `json:"name,omitempty"`
	Role      models.Role        `json:"role,omitempty"`
	Point     *float64           `json:"point,omitempty"`
	Estimate  *float64           `json:"estimate,omitempty"`
	Task      *models.Task       `json:"task,omitempty"`
	TaskID    string             `json:"task_id,omitempty"`
	TaskIDs   []string           `json:"task_ids,omitempty"`
	Config    *models.RoomConfig `json:"config,omitempty"`
}

const (
	IntentJoin         = "join"
	IntentLeave        = "leave"
	IntentCastVote     = "cast_vote"
	IntentFinalize     = "finalize"
	IntentReset        = "reset"
	IntentEnqueue      = "enqueue"
	IntentClearQueue   = "clear_queue"
	IntentReorderQueue = "reorder_queue"
	IntentRemoveTask   = "remove_task"
	IntentUpdateConfig = "update_config"
)

var errBadIntent = errors.New("malformed intent")

func decodeIntent(message []byte) (ClientIntent, error) {
	var in ClientIntent
	if err := json.Unmarshal(message, &in); err != nil {
		return in, fmt.Errorf("%w: %v", errBadIntent, err)
	}
	if in.Type == "" {
		return in, fmt.Errorf("%w: missing type", errBadIntent)
	}
	return in, nil
}

// dispatch runs in against the session. The returned ack is sent when err
// is nil.
func dispatch(ctx context.Context, sess *roomsync.Session, in ClientIntent) (AckPayload, error) {
	ack := AckPayload{RequestID: in.RequestID, Intent: in.Type}
	var err error

	switch in.Type {
	case IntentJoin:
		err = sess.Join(ctx, in.Name, in.Role)
	case IntentLeave:
		err = sess.Leave(ctx)
	case IntentCastVote:
		if in.Point == nil {
			return ack, fmt.Errorf("%w: point is required", errBadIntent)
		}
		err = sess.CastVote(ctx, *in.Point)
	case IntentFinalize:
		if in.Estimate == nil {
			return ack, fmt.Errorf("%w: estimate is required", errBadIntent)
		}
		err = sess.Finalize(ctx, *in.Estimate)
	case IntentReset:
		err = sess.Reset(ctx)
	case IntentEnqueue:
		if in.Task == nil {
			return ack, fmt.Errorf("%w: task is required", errBadIntent)
		}
		var task models.Task
		task, err = sess.Enqueue(ctx, *in.Task)
		ack.TaskID = task.ID
	case IntentClearQueue:
		err = sess.ClearQueue(ctx)
	case IntentReorderQueue:
		err = sess.ReorderQueue(ctx, in.TaskIDs)
	case IntentRemoveTask:
		err = sess.RemoveQueued(ctx, in.TaskID)
	case IntentUpdateConfig:
		if in.Config == nil {
			return ack, fmt.Errorf("%w: config is required", errBadIntent)
		}
		err = sess.UpdateConfig(ctx, *in.Config)
	default:
		return ack, fmt.Errorf("%w: unknown type %q", errBadIntent, in.Type)
	}
	return ack, err
}

// errorCode maps an intent failure onto a stable client-facing code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, errBadIntent):
		return "bad_request"
	case errors.Is(err, models.ErrRoomNotFound), errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, models.ErrStaleRole):
		return "stale_role"
	case errors.Is(err, models.ErrFrozenVote):
		return "frozen_vote"
	case errors.Is(err, models.ErrPointOutOfRange):
		return "point_out_of_range"
	case errors.Is(err, models.ErrInvalidRole):
		return "invalid_role"
	case errors.Is(err, models.ErrInvalidUID):
		return "invalid_uid"
	case errors.Is(err, models.ErrInvalidHideLabel):
		return "invalid_hide_label"
	case errors.Is(err, models.ErrInvalidTask):
		return "invalid_task"
	case errors.Is(err, models.ErrTaskFinalized):
		return "task_finalized"
	case errors.Is(err, models.ErrNotRevealed):
		return "not_revealed"
	case errors.Is(err, models.ErrStaleTask):
		return "stale"
	case errors.Is(err, models.ErrOwnerTaken):
		return "owner_taken"
	case errors.Is(err, models.ErrTaskNotQueued):
		return "task_not_queued"
	case errors.Is(err, roomsync.ErrNotSynced):
		return "not_synced"
	default:
		return "internal"
	}
}
