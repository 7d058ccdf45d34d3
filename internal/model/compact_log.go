package model

import "time"

// CompactLog replaces the fine-grained entries of one run.
type CompactLog struct {
	ID             string     `json:"id"`
	RunID          string     `json:"run_id"`
	Content        string     `json:"content"`
	EntryData      []byte     `json:"-"`
	FirstTimestamp *time.Time `json:"first_timestamp,omitempty"`
	LastTimestamp  *time.Time `json:"last_timestamp,omitempty"`
	EntryCount     int        `json:"entry_count"`
	ErrorCount     int        `json:"error_count"`
}
