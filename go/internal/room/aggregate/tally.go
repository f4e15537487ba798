package aggregate

import "github.com/mcdev12/spoker/go/internal/models"

// Tally is the derived state of a room, computed once per snapshot.
type Tally struct {
	Phase    models.Phase `json:"phase"`
	ShowVote bool         `json:"showVote"`
	Average  float64      `json:"averagePoint"`
	Highest  float64      `json:"highestPoint"`
	Voted    int          `json:"voted"`  // connected participants with a point
	Voters   int          `json:"voters"` // connected participants
}

// Summarize derives the tally for the room's current task.
func Summarize(room *models.Room) Tally {
	if room == nil {
		return Tally{Phase: models.PhaseVoting}
	}
	users := room.Users()
	points := Points(users)

	t := Tally{
		ShowVote: ShowVote(users),
		Average:  Average(points),
		Highest:  Highest(points),
	}
	for _, u := range users {
		if u.Role != models.RoleParticipant || !u.Connected() {
			continue
		}
		t.Voters++
		if u.HasVoted() {
			t.Voted++
		}
	}
	t.Phase = PhaseOf(room.Task, t.ShowVote)
	return t
}

// PhaseOf maps the current task and reveal readiness onto the lifecycle.
func PhaseOf(task models.Task, showVote bool) models.Phase {
	switch {
	case task.IsFinalized():
		return models.PhaseFinalized
	case showVote:
		return models.PhaseRevealed
	default:
		return models.PhaseVoting
	}
}
