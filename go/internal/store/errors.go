package store

import "errors"

var (
	ErrNotFound     = errors.New("store: room not found")
	ErrExists       = errors.New("store: room already exists")
	ErrPrecondition = errors.New("store: precondition failed")
	ErrConflict     = errors.New("store: revision conflict")
	ErrBadPath      = errors.New("store: invalid path")
	ErrWatchClosed  = errors.New("store: watch closed by backend")
	ErrConnClosed   = errors.New("store: connection closed")
	ErrClosed       = errors.New("store: backend closed")
)
