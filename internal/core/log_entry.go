package core

import (
	"context"
	"fmt"

	"github.com/edvin/batchrun/internal/model"
)

type LogEntryService struct {
	db DB
}

func NewLogEntryService(db DB) *LogEntryService {
	return &LogEntryService{db: db}
}

// Create appends one fine-grained entry and sets e.ID.
func (s *LogEntryService) Create(ctx context.Context, e *model.LogEntry) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO batchrun_job_run_log_entries (run_id, kind, line_number, number, time, text)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		e.RunID, e.Kind, e.LineNumber, e.Number, e.Time, e.Text,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("create log entry for run %s: %w", e.RunID, err)
	}
	return nil
}

// listLogEntries reads entries in log order. With lock set the rows are
// locked until the surrounding transaction ends.
func listLogEntries(ctx context.Context, db DB, runID string, lock bool) ([]model.LogEntry, error) {
	query := `SELECT id, run_id, kind, line_number, number, time, text
		FROM batchrun_job_run_log_entries WHERE run_id = $1
		ORDER BY time, line_number, number, id`
	if lock {
		query += ` FOR UPDATE`
	}
	rows, err := db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list log entries for run %s: %w", runID, err)
	}
	defer rows.Close()

	var entries []model.LogEntry
	for rows.Next() {
		var e model.LogEntry
		if err := rows.Scan(&e.ID, &e.RunID, &e.Kind, &e.LineNumber, &e.Number, &e.Time, &e.Text); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log entries: %w", err)
	}
	return entries, nil
}
