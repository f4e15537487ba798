// Package api serves the room lobby over Connect: creating a room and
// reading one before a client opens its websocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mcdev12/spoker/go/internal/models"
	"github.com/mcdev12/spoker/go/internal/room/aggregate"
	"github.com/mcdev12/spoker/go/internal/store"
)

const (
	RoomServiceName = "spoker.room.v1.RoomService"

	CreateRoomProcedure = "/" + RoomServiceName + "/CreateRoom"
	GetRoomProcedure    = "/" + RoomServiceName + "/GetRoom"
)

// UserIDHeader carries the caller's uid, as on the websocket route.
const UserIDHeader = "X-User-ID"

// RoomCreator is what the service needs to open a room.
type RoomCreator interface {
	CreateRoom(ctx context.Context, roomID string, info models.RoomInfo, cfg models.RoomConfig, firstTask models.Task, owner models.RoomUser) (*models.Room, error)
}

// RoomReader reads a room document by path.
type RoomReader interface {
	Get(ctx context.Context, path string) (store.Snapshot, error)
}

// Service implements the RoomService procedures on google.protobuf.Struct
// messages.
type Service struct {
	rooms  RoomCreator
	reader RoomReader
}

// NewService creates a new room lobby service
func NewService(rooms RoomCreator, reader RoomReader) *Service {
	return &Service{
		rooms:  rooms,
		reader: reader,
	}
}

// CreateRoomRequest is the JSON shape of a CreateRoom message.
type CreateRoomRequest struct {
	RoomID string            `json:"roomId"`
	Room   models.RoomInfo   `json:"room"`
	Config models.RoomConfig `json:"config"`
	Task   models.Task       `json:"task"`
	Owner  struct {
		UID  string `json:"uid"`
		Name string `json:"name"`
	} `json:"owner"`
}

type GetRoomRequest struct {
	RoomID string `json:"roomId"`
}

// RoomResponse is returned by both procedures.
type RoomResponse struct {
	RoomID   string           `json:"roomId"`
	Revision uint64           `json:"revision,omitempty"`
	State    *models.Room     `json:"state"`
	Tally    *aggregate.Tally `json:"tally,omitempty"`
}

// NewHandler returns the path prefix and handler serving RoomService.
func NewHandler(s *Service, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(CreateRoomProcedure, connect.NewUnaryHandler(CreateRoomProcedure, s.CreateRoom, opts...))
	mux.Handle(GetRoomProcedure, connect.NewUnaryHandler(GetRoomProcedure, s.GetRoom, opts...))
	return "/" + RoomServiceName + "/", mux
}

// CreateRoom opens a room owned by the caller.
func (s *Service) CreateRoom(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	var in CreateRoomRequest
	if err := fromStruct(req.Msg, &in); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if uid := req.Header().Get(UserIDHeader); uid != "" {
		in.Owner.UID = uid
	}

	owner := models.RoomUser{UID: in.Owner.UID, Name: in.Owner.Name}
	room, err := s.rooms.CreateRoom(ctx, in.RoomID, in.Room, in.Config, in.Task, owner)
	if err != nil {
		log.Debug().Err(err).Str("room_id", in.RoomID).Msg("create room rejected")
		return nil, toConnectError(err)
	}

	return respond(RoomResponse{RoomID: room.ID, State: room.Public()})
}

// GetRoom returns the current room document and its tally.
func (s *Service) GetRoom(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	var in GetRoomRequest
	if err := fromStruct(req.Msg, &in); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if err := models.ValidateRoomID(in.RoomID); err != nil {
		return nil, toConnectError(err)
	}

	snap, err := s.reader.Get(ctx, store.RoomPath(in.RoomID))
	if err != nil {
		return nil, toConnectError(err)
	}
	if !snap.Exists {
		return nil, toConnectError(models.ErrRoomNotFound)
	}
	var room models.Room
	if err := snap.Decode(&room); err != nil {
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("decode room %s: %w", in.RoomID, err))
	}
	room.ID = in.RoomID
	tally := aggregate.Summarize(&room)

	return respond(RoomResponse{
		RoomID:   in.RoomID,
		Revision: snap.Revision,
		State:    room.Public(),
		Tally:    &tally,
	})
}

func fromStruct(msg *structpb.Struct, v any) error {
	data, err := json.Marshal(msg.AsMap())
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func respond(v any) (*connect.Response[structpb.Struct], error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	msg, err := structpb.NewStruct(m)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

func toConnectError(err error) *connect.Error {
	switch {
	case errors.Is(err, models.ErrInvalidRoomID),
		errors.Is(err, models.ErrInvalidHideLabel),
		errors.Is(err, models.ErrInvalidTask),
		errors.Is(err, models.ErrInvalidUID):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, models.ErrUnauthorized):
		return connect.NewError(connect.CodeUnauthenticated, err)
	case errors.Is(err, models.ErrRoomExists):
		return connect.NewError(connect.CodeAlreadyExists, err)
	case errors.Is(err, models.ErrRoomNotFound), errors.Is(err, store.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
