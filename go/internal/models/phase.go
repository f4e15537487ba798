package models

// Phase is the vote lifecycle state of the current task.
type Phase string

const (
	PhaseVoting    Phase = "voting"
	PhaseRevealed  Phase = "revealed"
	PhaseFinalized Phase = "finalized"
)
