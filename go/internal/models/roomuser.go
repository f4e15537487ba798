package models

import "math"

// Role is a member's role in a room.
type Role string

const (
	RoleOwner       Role = "owner"
	RoleParticipant Role = "participant"
	RoleObservant   Role = "observant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleParticipant, RoleObservant:
		return true
	}
	return false
}

// Accepted point range, inclusive.
const (
	MinPoint = -1
	MaxPoint = 101
)

// RoomUser is one connected member of a room.
type RoomUser struct {
	UID         string   `json:"-"` // key in users/{uid}
	Name        string   `json:"name"`
	Role        Role     `json:"role"`
	Point       *float64 `json:"point,omitempty"` // nil until voted
	IsConnected *bool    `json:"isConnected,omitempty"`
}

// Connected reports whether the member is live. Entries are removed on
// disconnect, so a missing flag counts as connected.
func (u RoomUser) Connected() bool {
	return u.IsConnected == nil || *u.IsConnected
}

// HasVoted reports whether the member has a point for the current task.
func (u RoomUser) HasVoted() bool {
	return u.Point != nil
}

// Clone returns a deep copy of the member.
func (u RoomUser) Clone() RoomUser {
	c := u
	if u.Point != nil {
		p := *u.Point
		c.Point = &p
	}
	if u.IsConnected != nil {
		b := *u.IsConnected
		c.IsConnected = &b
	}
	return c
}

// ValidatePoint rejects estimates outside [MinPoint, MaxPoint].
func ValidatePoint(point float64) error {
	if math.IsNaN(point) || math.IsInf(point, 0) {
		return ErrPointOutOfRange
	}
	if point < MinPoint || point > MaxPoint {
		return ErrPointOutOfRange
	}
	return nil
}
