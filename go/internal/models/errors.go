package models

import "errors"

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomExists       = errors.New("room already exists")
	ErrInvalidRoomID    = errors.New("invalid room id")
	ErrInvalidUID       = errors.New("invalid user id")
	ErrUnauthorized     = errors.New("only the room owner can perform this action")
	ErrStaleRole        = errors.New("user has not joined the room")
	ErrFrozenVote       = errors.New("votes are frozen after reveal")
	ErrPointOutOfRange  = errors.New("point out of range")
	ErrInvalidRole      = errors.New("invalid role")
	ErrInvalidHideLabel = errors.New("invalid hide label")
	ErrInvalidTask      = errors.New("invalid task")
	ErrTaskFinalized    = errors.New("current task is already finalized")
	ErrNotRevealed      = errors.New("votes are not revealed yet")
	ErrStaleTask        = errors.New("room changed since it was read")
	ErrOwnerTaken       = errors.New("room already has an owner")
	ErrTaskNotQueued    = errors.New("task is not in the queue")
)
