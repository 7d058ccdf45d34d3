package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/batchrun/internal/model"
	"github.com/edvin/batchrun/internal/platform"
)

const (
	DefaultGracePeriod = 5 * time.Minute
	DefaultWindowSize  = 10
)

// RunQueueService materialises scheduled job events into queue items and
// hands them out to schedulers. Claims use FOR UPDATE SKIP LOCKED, so
// concurrent schedulers never claim the same item.
type RunQueueService struct {
	db          DB
	gracePeriod time.Duration
	windowSize  int
	now         func() time.Time
}

func NewRunQueueService(db DB, gracePeriod time.Duration, windowSize int) *RunQueueService {
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &RunQueueService{db: db, gracePeriod: gracePeriod, windowSize: windowSize, now: time.Now}
}

func (s *RunQueueService) GracePeriod() time.Duration { return s.gracePeriod }

// Window returns the run times that should be queued for sj at now: the
// next windowSize events from now minus the grace period. Disabled jobs
// have an empty window.
func (s *RunQueueService) Window(sj *model.ScheduledJob, now time.Time) ([]time.Time, error) {
	if !sj.Enabled {
		return []time.Time{}, nil
	}
	rule, err := RuleFor(sj)
	if err != nil {
		return nil, fmt.Errorf("rule for scheduled job %s: %w", sj.ID, err)
	}
	return rule.Next(now.Add(-s.gracePeriod), s.windowSize)
}

// Refill upserts the window of sj and deletes its unassigned items outside
// the window. Assigned items are kept until they fall behind the grace
// period, so an occurrence that was already launched is never queued again
// when the job is disabled and re-enabled. Calling it again at the same
// time changes nothing.
func (s *RunQueueService) Refill(ctx context.Context, sj *model.ScheduledJob) error {
	now := s.now()
	times, err := s.Window(sj, now)
	if err != nil {
		return err
	}
	if times == nil {
		times = []time.Time{}
	}

	err = pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		for _, t := range times {
			if _, err := tx.Exec(ctx,
				`INSERT INTO batchrun_run_queue_items (id, scheduled_job_id, run_at)
				 VALUES ($1, $2, $3)
				 ON CONFLICT (scheduled_job_id, run_at) DO NOTHING`,
				platform.NewID(), sj.ID, t,
			); err != nil {
				return fmt.Errorf("insert queue item at %s: %w", t.Format(time.RFC3339), err)
			}
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM batchrun_run_queue_items
			 WHERE scheduled_job_id = $1 AND NOT (run_at = ANY($2))
			   AND (assigned_at IS NULL OR run_at < $3)`,
			sj.ID, times, now.Add(-s.gracePeriod),
		); err != nil {
			return fmt.Errorf("delete stale queue items: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("refill queue for scheduled job %s: %w", sj.ID, err)
	}
	return nil
}

// RefillByID loads the scheduled job and refills its window.
func (s *RunQueueService) RefillByID(ctx context.Context, scheduledJobID string) error {
	var sj model.ScheduledJob
	err := scanScheduledJob(s.db.QueryRow(ctx,
		`SELECT `+scheduledJobColumns+` FROM batchrun_scheduled_jobs WHERE id = $1`, scheduledJobID), &sj)
	if err != nil {
		return notFound(err, "get scheduled job %s", scheduledJobID)
	}
	return s.Refill(ctx, &sj)
}

// RefreshAll removes expired items and refills every scheduled job. A job
// whose rule fails to refill does not stop the others; all failures are
// returned joined.
func (s *RunQueueService) RefreshAll(ctx context.Context) error {
	if _, err := s.RemoveExpired(ctx); err != nil {
		return err
	}
	jobs, err := listScheduledJobs(ctx, s.db)
	if err != nil {
		return err
	}
	var errs []error
	for i := range jobs {
		if err := s.Refill(ctx, &jobs[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RemoveExpired deletes unassigned items whose run time is more than the
// grace period in the past.
func (s *RunQueueService) RemoveExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM batchrun_run_queue_items WHERE run_at < $1 AND assigned_at IS NULL`,
		s.now().Add(-s.gracePeriod),
	)
	if err != nil {
		return 0, fmt.Errorf("remove expired queue items: %w", err)
	}
	return tag.RowsAffected(), nil
}

const claimableFrom = `FROM batchrun_run_queue_items q
	JOIN batchrun_scheduled_jobs sj ON sj.id = q.scheduled_job_id
	WHERE q.assigned_at IS NULL AND sj.enabled`

func scanQueueItem(row pgx.Row) (*model.RunQueueItem, error) {
	var item model.RunQueueItem
	if err := row.Scan(&item.ID, &item.ScheduledJobID, &item.RunAt, &item.AssignedAt, &item.AssigneePID, &item.JobID); err != nil {
		return nil, err
	}
	return &item, nil
}

// EarliestClaimable returns the claimable, unexpired item with the
// smallest run time, or nil when there is none.
func (s *RunQueueService) EarliestClaimable(ctx context.Context) (*model.RunQueueItem, error) {
	item, err := scanQueueItem(s.db.QueryRow(ctx,
		`SELECT q.id, q.scheduled_job_id, q.run_at, q.assigned_at, q.assignee_pid, sj.job_id
		 `+claimableFrom+` AND q.run_at >= $1
		 ORDER BY q.run_at, q.id LIMIT 1`,
		s.now().Add(-s.gracePeriod),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get earliest claimable queue item: %w", err)
	}
	return item, nil
}

// Claim assigns the item to pid. It returns nil without error when the
// item is locked by another claimer, already assigned, or gone.
func (s *RunQueueService) Claim(ctx context.Context, itemID string, pid int) (*model.RunQueueItem, error) {
	var claimed *model.RunQueueItem
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		item, err := scanQueueItem(tx.QueryRow(ctx,
			`SELECT q.id, q.scheduled_job_id, q.run_at, q.assigned_at, q.assignee_pid, sj.job_id
			 `+claimableFrom+` AND q.id = $1
			 FOR UPDATE OF q SKIP LOCKED`,
			itemID))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock queue item: %w", err)
		}

		now := s.now()
		if _, err := tx.Exec(ctx,
			`UPDATE batchrun_run_queue_items SET assigned_at = $1, assignee_pid = $2 WHERE id = $3`,
			now, pid, item.ID,
		); err != nil {
			return fmt.Errorf("assign queue item %s: %w", item.ID, err)
		}
		item.AssignedAt = &now
		item.AssigneePID = &pid
		claimed = item
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim queue item: %w", err)
	}
	return claimed, nil
}

// ListByScheduledJob returns the queue window of a scheduled job,
// assigned items included.
func (s *RunQueueService) ListByScheduledJob(ctx context.Context, scheduledJobID string) ([]model.RunQueueItem, error) {
	rows, err := s.db.Query(ctx,
		`SELECT q.id, q.scheduled_job_id, q.run_at, q.assigned_at, q.assignee_pid, sj.job_id
		 FROM batchrun_run_queue_items q
		 JOIN batchrun_scheduled_jobs sj ON sj.id = q.scheduled_job_id
		 WHERE q.scheduled_job_id = $1
		 ORDER BY q.run_at`, scheduledJobID)
	if err != nil {
		return nil, fmt.Errorf("list queue items for scheduled job %s: %w", scheduledJobID, err)
	}
	defer rows.Close()

	var items []model.RunQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue items: %w", err)
	}
	return items, nil
}
