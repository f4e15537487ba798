package models

import (
	"regexp"
	"sort"
)

// RoomIDPattern is the accepted shape of an externally assigned room slug.
var RoomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// UIDPattern is the accepted shape of a user id issued by the identity
// provider.
var UIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

var digitsOnly = regexp.MustCompile(`^[0-9]+$`)

// RoomInfo holds the room's display settings.
type RoomInfo struct {
	Name      string  `json:"name"`
	IsPrivate bool    `json:"isPrivate"`
	Password  *string `json:"password,omitempty"`
}

// RoomConfig holds the voting configuration for a room.
type RoomConfig struct {
	HideLabel         HideLabel `json:"hideLabel"`
	IsFreezeAfterVote bool      `json:"isFreezeAfterVote"`
}

// Room is the full document stored under rooms/{id}.
type Room struct {
	ID        string              `json:"-"`
	Config    RoomConfig          `json:"config"`
	Info      RoomInfo            `json:"room"`
	Task      Task                `json:"task"`
	Queue     []Task              `json:"queue,omitempty"`
	Completed []Task              `json:"completed,omitempty"`
	Members   map[string]RoomUser `json:"users,omitempty"`
}

// ValidateRoomID checks a room slug before it is used as a store key.
func ValidateRoomID(id string) error {
	if !RoomIDPattern.MatchString(id) {
		return ErrInvalidRoomID
	}
	return nil
}

// ValidateUID checks a user id before it is used as a users/{uid} key.
// All-digit ids are refused since numeric path segments address arrays.
func ValidateUID(uid string) error {
	if !UIDPattern.MatchString(uid) || digitsOnly.MatchString(uid) {
		return ErrInvalidUID
	}
	return nil
}

// User returns the entry for uid with its UID filled in.
func (r *Room) User(uid string) (RoomUser, bool) {
	u, ok := r.Members[uid]
	if !ok {
		return RoomUser{}, false
	}
	u.UID = uid
	return u, true
}

// Users returns every member sorted by name, then uid.
func (r *Room) Users() []RoomUser {
	users := make([]RoomUser, 0, len(r.Members))
	for uid, u := range r.Members {
		u.UID = uid
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Name != users[j].Name {
			return users[i].Name < users[j].Name
		}
		return users[i].UID < users[j].UID
	})
	return users
}

// OwnerUID returns the uid of a member holding the owner role, if any.
func (r *Room) OwnerUID() (string, bool) {
	for _, u := range r.Users() {
		if u.Role == RoleOwner {
			return u.UID, true
		}
	}
	return "", false
}

// IsOwner reports whether uid currently holds the owner role.
func (r *Room) IsOwner(uid string) bool {
	u, ok := r.Members[uid]
	return ok && u.Role == RoleOwner
}

// Public returns a copy safe to hand to clients: the password is dropped.
func (r *Room) Public() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.Info.Password = nil
	return &c
}

// Clone returns a deep copy so snapshots can be shared without aliasing.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.Info.Password = cloneString(r.Info.Password)
	c.Task = r.Task.Clone()
	c.Queue = cloneTasks(r.Queue)
	c.Completed = cloneTasks(r.Completed)
	if r.Members != nil {
		c.Members = make(map[string]RoomUser, len(r.Members))
		for uid, u := range r.Members {
			c.Members[uid] = u.Clone()
		}
	}
	return &c
}

func cloneTasks(tasks []Task) []Task {
	if tasks == nil {
		return nil
	}
	out := make([]Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
