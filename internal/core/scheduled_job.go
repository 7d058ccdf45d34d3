package core

import (
	"context"
	"fmt"

	"github.com/edvin/batchrun/internal/model"
	"github.com/edvin/batchrun/internal/platform"
	"github.com/edvin/batchrun/internal/recurrence"
)

// RuleFor parses the recurrence rule of a scheduled job.
func RuleFor(sj *model.ScheduledJob) (*recurrence.Rule, error) {
	loc, err := recurrence.LoadLocation(sj.Timezone)
	if err != nil {
		return nil, err
	}
	return recurrence.New(loc, recurrence.Specs{
		Years:       sj.Years,
		Months:      sj.Months,
		DaysOfMonth: sj.DaysOfMonth,
		Weekdays:    sj.Weekdays,
		Hours:       sj.Hours,
		Minutes:     sj.Minutes,
	})
}

type ScheduledJobService struct {
	db    DB
	queue *RunQueueService
}

func NewScheduledJobService(db DB, queue *RunQueueService) *ScheduledJobService {
	return &ScheduledJobService{db: db, queue: queue}
}

const scheduledJobColumns = `id, name, job_id, enabled, timezone, years, months, days_of_month, weekdays, hours, minutes, comment, created_at, updated_at`

func scanScheduledJob(row interface{ Scan(...any) error }, sj *model.ScheduledJob) error {
	return row.Scan(&sj.ID, &sj.Name, &sj.JobID, &sj.Enabled, &sj.Timezone,
		&sj.Years, &sj.Months, &sj.DaysOfMonth, &sj.Weekdays, &sj.Hours, &sj.Minutes,
		&sj.Comment, &sj.CreatedAt, &sj.UpdatedAt)
}

func normalizeSpecs(sj *model.ScheduledJob) {
	for _, f := range []*string{&sj.Years, &sj.Months, &sj.DaysOfMonth, &sj.Weekdays, &sj.Hours, &sj.Minutes} {
		if *f == "" {
			*f = "*"
		}
	}
}

// Upsert creates the scheduled job or updates the one with the same name,
// then regenerates its queue window.
func (s *ScheduledJobService) Upsert(ctx context.Context, sj *model.ScheduledJob) error {
	normalizeSpecs(sj)
	if _, err := RuleFor(sj); err != nil {
		return fmt.Errorf("upsert scheduled job %s: %w", sj.Name, err)
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO batchrun_scheduled_jobs (id, name, job_id, enabled, timezone, years, months, days_of_month, weekdays, hours, minutes, comment)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (name) DO UPDATE
		 SET job_id = EXCLUDED.job_id, enabled = EXCLUDED.enabled, timezone = EXCLUDED.timezone,
		     years = EXCLUDED.years, months = EXCLUDED.months, days_of_month = EXCLUDED.days_of_month,
		     weekdays = EXCLUDED.weekdays, hours = EXCLUDED.hours, minutes = EXCLUDED.minutes,
		     comment = EXCLUDED.comment, updated_at = now()
		 RETURNING id, created_at, updated_at`,
		platform.NewID(), sj.Name, sj.JobID, sj.Enabled, sj.Timezone,
		sj.Years, sj.Months, sj.DaysOfMonth, sj.Weekdays, sj.Hours, sj.Minutes, sj.Comment,
	).Scan(&sj.ID, &sj.CreatedAt, &sj.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert scheduled job %s: %w", sj.Name, err)
	}

	if err := s.queue.Refill(ctx, sj); err != nil {
		return fmt.Errorf("upsert scheduled job %s: %w", sj.Name, err)
	}
	return nil
}

// SetEnabled toggles a scheduled job and regenerates its queue window, so
// disabling removes its unassigned items.
func (s *ScheduledJobService) SetEnabled(ctx context.Context, id string, enabled bool) error {
	sj, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx,
		`UPDATE batchrun_scheduled_jobs SET enabled = $1, updated_at = now() WHERE id = $2`,
		enabled, id,
	); err != nil {
		return fmt.Errorf("update scheduled job %s: %w", id, err)
	}
	sj.Enabled = enabled
	return s.queue.Refill(ctx, sj)
}

func (s *ScheduledJobService) GetByID(ctx context.Context, id string) (*model.ScheduledJob, error) {
	var sj model.ScheduledJob
	err := scanScheduledJob(s.db.QueryRow(ctx,
		`SELECT `+scheduledJobColumns+` FROM batchrun_scheduled_jobs WHERE id = $1`, id), &sj)
	if err != nil {
		return nil, notFound(err, "get scheduled job %s", id)
	}
	return &sj, nil
}

func listScheduledJobs(ctx context.Context, db DB) ([]model.ScheduledJob, error) {
	rows, err := db.Query(ctx, `SELECT `+scheduledJobColumns+` FROM batchrun_scheduled_jobs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.ScheduledJob
	for rows.Next() {
		var sj model.ScheduledJob
		if err := scanScheduledJob(rows, &sj); err != nil {
			return nil, fmt.Errorf("scan scheduled job: %w", err)
		}
		jobs = append(jobs, sj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scheduled jobs: %w", err)
	}
	return jobs, nil
}
