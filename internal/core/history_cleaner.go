package core

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/batchrun/internal/model"
)

const DefaultCleanerBatchSize = 10

// CleanupCandidate is a finished run together with the retention delays
// that apply to it.
type CleanupCandidate struct {
	RunID         string
	StartedAt     time.Time
	Policy        model.RetentionPolicy
	HasEntries    bool
	HasCompactLog bool
}

// CleanupPlan lists run IDs per action. A run appears in at most one list.
type CleanupPlan struct {
	DeleteRuns []string
	DeleteLogs []string
	Compact    []string
}

// Partition sorts candidates into buckets. Deleting the run wins over
// deleting its logs, which wins over compacting them.
func Partition(cands []CleanupCandidate, now time.Time) CleanupPlan {
	due := func(c CleanupCandidate, d time.Duration) bool {
		return !c.StartedAt.Add(d).After(now)
	}

	var plan CleanupPlan
	for _, c := range cands {
		switch {
		case due(c, c.Policy.DeleteRunDelay):
			plan.DeleteRuns = append(plan.DeleteRuns, c.RunID)
		case due(c, c.Policy.DeleteLogsDelay) && (c.HasEntries || c.HasCompactLog):
			plan.DeleteLogs = append(plan.DeleteLogs, c.RunID)
		case due(c, c.Policy.CompactDelay) && c.HasEntries:
			plan.Compact = append(plan.Compact, c.RunID)
		}
	}
	return plan
}

// CleanupReport counts what a cleaner pass did, or would do in a dry run.
type CleanupReport struct {
	Plan               CleanupPlan
	DryRun             bool
	RunsDeleted        int64
	EntriesDeleted     int64
	CompactLogsDeleted int64
	RunsCompacted      int
	EntriesCompacted   int
}

// HistoryCleaner applies retention policies to finished runs.
type HistoryCleaner struct {
	db        DB
	compactor *CompactLogService
	batchSize int
	defaults  model.RetentionPolicy
	now       func() time.Time
}

func NewHistoryCleaner(db DB, compactor *CompactLogService, batchSize int) *HistoryCleaner {
	if batchSize <= 0 {
		batchSize = DefaultCleanerBatchSize
	}
	return &HistoryCleaner{
		db:        db,
		compactor: compactor,
		batchSize: batchSize,
		defaults:  model.DefaultRetentionPolicy,
		now:       time.Now,
	}
}

// Candidates returns the finished runs that are due for at least
// compaction, oldest first.
func (c *HistoryCleaner) Candidates(ctx context.Context, now time.Time) ([]CleanupCandidate, error) {
	rows, err := c.db.Query(ctx,
		`SELECT r.id, r.started_at,
		        COALESCE(p.compact_delay_seconds, $2),
		        COALESCE(p.delete_logs_delay_seconds, $3),
		        COALESCE(p.delete_run_delay_seconds, $4),
		        EXISTS (SELECT 1 FROM batchrun_job_run_log_entries e WHERE e.run_id = r.id),
		        EXISTS (SELECT 1 FROM batchrun_job_run_logs l WHERE l.run_id = r.id)
		 FROM batchrun_job_runs r
		 JOIN batchrun_jobs j ON j.id = r.job_id
		 LEFT JOIN batchrun_retention_policies p ON p.id = j.retention_policy_id
		 WHERE r.stopped_at IS NOT NULL
		   AND r.started_at + COALESCE(p.compact_delay_seconds, $2) * interval '1 second' <= $1
		 ORDER BY r.started_at, r.id`,
		now, seconds(c.defaults.CompactDelay), seconds(c.defaults.DeleteLogsDelay), seconds(c.defaults.DeleteRunDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("list cleanup candidates: %w", err)
	}
	defer rows.Close()

	var cands []CleanupCandidate
	for rows.Next() {
		var cand CleanupCandidate
		var compact, deleteLogs, deleteRun int64
		if err := rows.Scan(&cand.RunID, &cand.StartedAt, &compact, &deleteLogs, &deleteRun,
			&cand.HasEntries, &cand.HasCompactLog); err != nil {
			return nil, fmt.Errorf("scan cleanup candidate: %w", err)
		}
		cand.Policy = model.RetentionPolicy{
			CompactDelay:    time.Duration(compact) * time.Second,
			DeleteLogsDelay: time.Duration(deleteLogs) * time.Second,
			DeleteRunDelay:  time.Duration(deleteRun) * time.Second,
		}
		cands = append(cands, cand)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cleanup candidates: %w", err)
	}
	return cands, nil
}

// Run performs one cleaner pass: delete runs, then delete logs, then
// compact. Deletions go in batches of batchSize runs per transaction.
func (c *HistoryCleaner) Run(ctx context.Context, dryRun bool) (*CleanupReport, error) {
	now := c.now()
	cands, err := c.Candidates(ctx, now)
	if err != nil {
		return nil, err
	}
	report := &CleanupReport{Plan: Partition(cands, now), DryRun: dryRun}
	if dryRun {
		return report, nil
	}

	if err := c.deleteRuns(ctx, report.Plan.DeleteRuns, report); err != nil {
		return report, err
	}
	for batch := range slices.Chunk(report.Plan.DeleteLogs, c.batchSize) {
		var entries, logs int64
		err := pgx.BeginFunc(ctx, c.db, func(tx pgx.Tx) (err error) {
			entries, logs, err = deleteLogs(ctx, tx, batch)
			return err
		})
		if err != nil {
			return report, fmt.Errorf("delete logs: %w", err)
		}
		report.EntriesDeleted += entries
		report.CompactLogsDeleted += logs
	}
	for _, id := range report.Plan.Compact {
		res, err := c.compactor.CompactRun(ctx, id, false)
		if err != nil {
			return report, err
		}
		if res.Compacted > 0 {
			report.RunsCompacted++
			report.EntriesCompacted += res.Compacted
		}
	}
	return report, nil
}

// DropOldRuns deletes finished runs started more than days before the
// newest run, together with their logs.
func (c *HistoryCleaner) DropOldRuns(ctx context.Context, days int) (*CleanupReport, error) {
	rows, err := c.db.Query(ctx,
		`SELECT id FROM batchrun_job_runs
		 WHERE stopped_at IS NOT NULL
		   AND started_at < (SELECT max(started_at) FROM batchrun_job_runs) - $1 * interval '1 day'
		 ORDER BY started_at, id`, days)
	if err != nil {
		return nil, fmt.Errorf("list old runs: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect old runs: %w", err)
	}

	report := &CleanupReport{Plan: CleanupPlan{DeleteRuns: ids}}
	if err := c.deleteRuns(ctx, ids, report); err != nil {
		return report, err
	}
	return report, nil
}

func (c *HistoryCleaner) deleteRuns(ctx context.Context, ids []string, report *CleanupReport) error {
	for batch := range slices.Chunk(ids, c.batchSize) {
		var entries, logs, runs int64
		err := pgx.BeginFunc(ctx, c.db, func(tx pgx.Tx) error {
			var err error
			entries, logs, err = deleteLogs(ctx, tx, batch)
			if err != nil {
				return err
			}
			tag, err := tx.Exec(ctx, `DELETE FROM batchrun_job_runs WHERE id = ANY($1)`, batch)
			if err != nil {
				return fmt.Errorf("delete run rows: %w", err)
			}
			runs = tag.RowsAffected()
			return nil
		})
		if err != nil {
			return fmt.Errorf("delete runs: %w", err)
		}
		report.RunsDeleted += runs
		report.EntriesDeleted += entries
		report.CompactLogsDeleted += logs
	}
	return nil
}

// deleteLogs removes the fine-grained entries and compact logs of runIDs,
// returning how many of each were deleted.
func deleteLogs(ctx context.Context, tx pgx.Tx, runIDs []string) (entries, logs int64, err error) {
	tag, err := tx.Exec(ctx, `DELETE FROM batchrun_job_run_log_entries WHERE run_id = ANY($1)`, runIDs)
	if err != nil {
		return 0, 0, fmt.Errorf("delete log entries: %w", err)
	}
	entries = tag.RowsAffected()

	tag, err = tx.Exec(ctx, `DELETE FROM batchrun_job_run_logs WHERE run_id = ANY($1)`, runIDs)
	if err != nil {
		return 0, 0, fmt.Errorf("delete compact logs: %w", err)
	}
	return entries, tag.RowsAffected(), nil
}
