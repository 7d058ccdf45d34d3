package model

import "time"

// ScheduledJob attaches a recurrence rule to a Job. The six specifier
// strings are stored verbatim; "*" means every value.
type ScheduledJob struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	JobID       string    `json:"job_id"`
	Enabled     bool      `json:"enabled"`
	Timezone    string    `json:"timezone"`
	Years       string    `json:"years"`
	Months      string    `json:"months"`
	DaysOfMonth string    `json:"days_of_month"`
	Weekdays    string    `json:"weekdays"`
	Hours       string    `json:"hours"`
	Minutes     string    `json:"minutes"`
	Comment     string    `json:"comment"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
