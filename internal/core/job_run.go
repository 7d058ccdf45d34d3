package core

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/batchrun/internal/model"
	"github.com/edvin/batchrun/internal/platform"
)

type JobRunService struct {
	db DB
}

func NewJobRunService(db DB) *JobRunService {
	return &JobRunService{db: db}
}

// Create inserts a new run of jobID started now.
func (s *JobRunService) Create(ctx context.Context, jobID string) (*model.JobRun, error) {
	run := &model.JobRun{ID: platform.NewID(), JobID: jobID}
	err := s.db.QueryRow(ctx,
		`INSERT INTO batchrun_job_runs (id, job_id, started_at) VALUES ($1, $2, now()) RETURNING started_at`,
		run.ID, jobID,
	).Scan(&run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("create run for job %s: %w", jobID, err)
	}
	return run, nil
}

func (s *JobRunService) GetByID(ctx context.Context, id string) (*model.JobRun, error) {
	var r model.JobRun
	err := s.db.QueryRow(ctx,
		`SELECT id, job_id, pid, started_at, stopped_at, exit_code FROM batchrun_job_runs WHERE id = $1`, id,
	).Scan(&r.ID, &r.JobID, &r.PID, &r.StartedAt, &r.StoppedAt, &r.ExitCode)
	if err != nil {
		return nil, notFound(err, "get run %s", id)
	}
	return &r, nil
}

// SetPID records the process ID of a started run.
func (s *JobRunService) SetPID(ctx context.Context, id string, pid int) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE batchrun_job_runs SET pid = $1 WHERE id = $2 AND stopped_at IS NULL`, pid, id)
	if err != nil {
		return fmt.Errorf("set pid of run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set pid of run %s: %w", id, ErrNotFound)
	}
	return nil
}

// Finish records the stop time and exit code. A run is finished once; a
// second call is a no-op.
func (s *JobRunService) Finish(ctx context.Context, id string, stoppedAt time.Time, exitCode int) error {
	_, err := s.db.Exec(ctx,
		`UPDATE batchrun_job_runs SET stopped_at = $1, exit_code = $2 WHERE id = $3 AND stopped_at IS NULL`,
		stoppedAt, exitCode, id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	return nil
}

// Missing returns the ids that do not name an existing run.
func (s *JobRunService) Missing(ctx context.Context, ids []string) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT u.id FROM unnest($1::text[]) AS u(id)
		 WHERE NOT EXISTS (SELECT 1 FROM batchrun_job_runs r WHERE r.id = u.id)
		 ORDER BY u.id`, ids)
	if err != nil {
		return nil, fmt.Errorf("find missing runs: %w", err)
	}
	defer rows.Close()

	var missing []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		missing = append(missing, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run ids: %w", err)
	}
	return missing, nil
}
