package model

import "time"

type RetentionPolicy struct {
	ID              string        `json:"id"`
	Identifier      string        `json:"identifier"`
	CompactDelay    time.Duration `json:"compact_delay"`
	DeleteLogsDelay time.Duration `json:"delete_logs_delay"`
	DeleteRunDelay  time.Duration `json:"delete_run_delay"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// DefaultRetentionPolicy applies to jobs that reference no policy.
var DefaultRetentionPolicy = RetentionPolicy{
	Identifier:      "default",
	CompactDelay:    24 * time.Hour,
	DeleteLogsDelay: 30 * 24 * time.Hour,
	DeleteRunDelay:  365 * 24 * time.Hour,
}
