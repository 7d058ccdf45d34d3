package model

import "time"

type LogEntryKind string

const (
	LogEntryKindStdout LogEntryKind = "STDOUT"
	LogEntryKindStderr LogEntryKind = "STDERR"
)

// LogEntry is one fine-grained piece of a run's output. Within one stream
// (LineNumber, Number) increases strictly.
type LogEntry struct {
	ID         int64        `json:"id"`
	RunID      string       `json:"run_id"`
	Kind       LogEntryKind `json:"kind"`
	LineNumber int          `json:"line_number"`
	Number     int          `json:"number"`
	Time       time.Time    `json:"time"`
	Text       string       `json:"text"`
}
