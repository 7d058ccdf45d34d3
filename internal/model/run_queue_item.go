package model

import "time"

// RunQueueItem is one materialised (scheduled job, run_at) tuple.
type RunQueueItem struct {
	ID             string     `json:"id"`
	ScheduledJobID string     `json:"scheduled_job_id"`
	RunAt          time.Time  `json:"run_at"`
	AssignedAt     *time.Time `json:"assigned_at,omitempty"`
	AssigneePID    *int       `json:"assignee_pid,omitempty"`

	// JobID is joined from the scheduled job when listing claimable items.
	JobID string `json:"job_id,omitempty"`
}
