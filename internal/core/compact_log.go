package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/batchrun/internal/logpack"
	"github.com/edvin/batchrun/internal/model"
	"github.com/edvin/batchrun/internal/platform"
)

// CompactLogService folds the fine-grained entries of a run into its
// compact log.
type CompactLogService struct {
	db        DB
	precision time.Duration
}

func NewCompactLogService(db DB, precision time.Duration) *CompactLogService {
	if precision <= 0 {
		precision = logpack.DefaultPrecision
	}
	return &CompactLogService{db: db, precision: precision}
}

// CompactResult describes one compaction.
type CompactResult struct {
	RunID string
	// Compacted is the number of fine-grained entries folded in.
	Compacted int
	// Merged is the number of entries already in an earlier compact log.
	Merged int
	Log    *model.CompactLog
}

// CompactRun compacts the run's fine-grained entries, merging any existing
// compact log, and deletes the compacted entries. With dryRun nothing is
// written. A run without entries or compact log yields a zero result.
func (s *CompactLogService) CompactRun(ctx context.Context, runID string, dryRun bool) (*CompactResult, error) {
	res := &CompactResult{RunID: runID}
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		entries, err := listLogEntries(ctx, tx, runID, !dryRun)
		if err != nil {
			return err
		}
		res.Compacted = len(entries)
		if len(entries) == 0 {
			return nil
		}

		prior, err := s.readCompact(ctx, tx, runID, !dryRun)
		if err != nil {
			return err
		}
		res.Merged = len(prior)

		merged := append(prior, entries...)
		slices.SortStableFunc(merged, func(a, b model.LogEntry) int { return a.Time.Compare(b.Time) })

		packed, err := logpack.Pack(merged, s.precision)
		if err != nil {
			return fmt.Errorf("pack log of run %s: %w", runID, err)
		}
		res.Log = &model.CompactLog{
			RunID:          runID,
			Content:        packed.Content,
			EntryData:      packed.EntryData,
			FirstTimestamp: packed.FirstTimestamp,
			LastTimestamp:  packed.LastTimestamp,
			EntryCount:     packed.EntryCount,
			ErrorCount:     packed.ErrorCount,
		}
		if dryRun {
			return nil
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO batchrun_job_run_logs (id, run_id, content, entry_data, first_timestamp, last_timestamp, entry_count, error_count)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (run_id) DO UPDATE
			 SET content = EXCLUDED.content, entry_data = EXCLUDED.entry_data,
			     first_timestamp = EXCLUDED.first_timestamp, last_timestamp = EXCLUDED.last_timestamp,
			     entry_count = EXCLUDED.entry_count, error_count = EXCLUDED.error_count
			 RETURNING id`,
			platform.NewID(), runID, packed.Content, packed.EntryData,
			packed.FirstTimestamp, packed.LastTimestamp, packed.EntryCount, packed.ErrorCount,
		).Scan(&res.Log.ID)
		if err != nil {
			return fmt.Errorf("save compact log of run %s: %w", runID, err)
		}

		ids := make([]int64, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM batchrun_job_run_log_entries WHERE id = ANY($1)`, ids,
		); err != nil {
			return fmt.Errorf("delete compacted entries of run %s: %w", runID, err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("compact run %s: %w", runID, err)
	}
	return res, nil
}

func (s *CompactLogService) readCompact(ctx context.Context, db DB, runID string, lock bool) ([]model.LogEntry, error) {
	query := `SELECT content, entry_data FROM batchrun_job_run_logs WHERE run_id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var content string
	var data []byte
	err := db.QueryRow(ctx, query, runID).Scan(&content, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read compact log of run %s: %w", runID, err)
	}
	entries, err := logpack.Unpack(content, data)
	if err != nil {
		return nil, fmt.Errorf("expand compact log of run %s: %w", runID, err)
	}
	for i := range entries {
		entries[i].RunID = runID
	}
	return entries, nil
}

// Entries returns the full log of a run in time order, merging the expanded
// compact log with fine-grained entries not compacted yet.
func (s *CompactLogService) Entries(ctx context.Context, runID string) ([]model.LogEntry, error) {
	prior, err := s.readCompact(ctx, s.db, runID, false)
	if err != nil {
		return nil, err
	}
	entries, err := listLogEntries(ctx, s.db, runID, false)
	if err != nil {
		return nil, err
	}
	all := append(prior, entries...)
	slices.SortStableFunc(all, func(a, b model.LogEntry) int { return a.Time.Compare(b.Time) })
	return all, nil
}
