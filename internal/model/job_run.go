package model

import "time"

// SpawnFailedExitCode is recorded when the command could not be started.
const SpawnFailedExitCode = -1

// JobRun is one execution of a Job.
type JobRun struct {
	ID        string     `json:"id"`
	JobID     string     `json:"job_id"`
	PID       *int       `json:"pid,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
}

// Status derives the lifecycle state from the nullable columns.
func (r *JobRun) Status() string {
	switch {
	case r.StoppedAt != nil || r.ExitCode != nil:
		return RunStatusFinished
	case r.PID != nil:
		return RunStatusRunning
	default:
		return RunStatusCreated
	}
}

const (
	RunStatusCreated  = "created"
	RunStatusRunning  = "running"
	RunStatusFinished = "finished"
)
