// Package aggregate derives reveal readiness and point statistics from a
// room's members. Everything here is pure and deterministic.
package aggregate

import "github.com/mcdev12/spoker/go/internal/models"

// ShowVote reports whether every connected participant has a point.
// A room without connected participants never reveals.
func ShowVote(users []models.RoomUser) bool {
	participants := 0
	for _, u := range users {
		if u.Role != models.RoleParticipant || !u.Connected() {
			continue
		}
		participants++
		if !u.HasVoted() {
			return false
		}
	}
	return participants > 0
}

// FilterVotable returns the connected owners and participants holding a point.
// Observants never count toward the aggregates.
func FilterVotable(users []models.RoomUser) []models.RoomUser {
	var out []models.RoomUser
	for _, u := range users {
		if u.Role != models.RoleOwner && u.Role != models.RoleParticipant {
			continue
		}
		if !u.Connected() || !u.HasVoted() {
			continue
		}
		out = append(out, u)
	}
	return out
}

// Points extracts the point values of the votable population.
func Points(users []models.RoomUser) []float64 {
	votable := FilterVotable(users)
	points := make([]float64, 0, len(votable))
	for _, u := range votable {
		points = append(points, *u.Point)
	}
	return points
}

// Average is the mean of the nonzero points. Zero means "no estimate" and is
// left out; no nonzero points yields 0.
func Average(points []float64) float64 {
	var sum float64
	n := 0
	for _, p := range points {
		if p == 0 {
			continue
		}
		sum += p
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Highest is the maximum point, or 0 for no points.
func Highest(points []float64) float64 {
	if len(points) == 0 {
		return 0
	}
	highest := points[0]
	for _, p := range points[1:] {
		if p > highest {
			highest = p
		}
	}
	return highest
}
