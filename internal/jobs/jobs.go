// Package jobs models the asynchronous photo-analysis job as seen by the
// status delivery subsystem. The analysis pipeline itself is an external
// collaborator; this package only knows about job identity, state, and how
// to look a job's state up.
package jobs

import "time"

// State is the lifecycle state of an analysis job.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "inprogress"
	StateComplete   State = "finished"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transitions can occur from s.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateProcessing, StateComplete, StateFailed:
		return true
	}
	return false
}

// DisplayClass is the user-visible collapse of a job state. Regardless of
// which internal condition produced a failure (job error, hard timeout,
// too many poll errors), the UI only ever distinguishes these three.
type DisplayClass string

const (
	DisplayInProgress DisplayClass = "in progress"
	DisplayComplete   DisplayClass = "complete"
	DisplayError      DisplayClass = "error"
)

// Display maps a job state to its user-visible class.
func Display(s State) DisplayClass {
	switch s {
	case StateComplete:
		return DisplayComplete
	case StateFailed:
		return DisplayError
	default:
		return DisplayInProgress
	}
}

// Job is one photo-analysis job.
type Job struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	State     State     `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status is the answer to a job-status query.
type Status struct {
	ID    string `json:"id"`
	State State  `json:"state"`
}
