package models

import (
	"strings"
	"time"
)

// Task is a unit of estimation.
type Task struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	Estimation   *float64     `json:"estimation,omitempty"`   // set at finalize only
	PointEntries []PointEntry `json:"pointEntries,omitempty"` // set at finalize only
	LastVoted    *LastVoted   `json:"lastVoted,omitempty"`
}

// LastVoted marks the most recent voter on a task.
type LastVoted struct {
	Name string    `json:"name"`
	Time time.Time `json:"time"`
}

// PointEntry is one user's point captured when a task was finalized.
type PointEntry struct {
	Name  string  `json:"name"`
	Point float64 `json:"point"`
}

// IsFinalized reports whether the task has an agreed estimation.
func (t Task) IsFinalized() bool {
	return t.Estimation != nil
}

// Validate checks the fields an owner supplies when creating a task.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return ErrInvalidTask
	}
	if t.Estimation != nil || len(t.PointEntries) > 0 {
		return ErrInvalidTask
	}
	return nil
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	c := t
	if t.Estimation != nil {
		e := *t.Estimation
		c.Estimation = &e
	}
	if t.PointEntries != nil {
		c.PointEntries = append([]PointEntry(nil), t.PointEntries...)
	}
	if t.LastVoted != nil {
		lv := *t.LastVoted
		c.LastVoted = &lv
	}
	return c
}
