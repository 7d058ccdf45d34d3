package core

import (
	"context"
	"fmt"

	"github.com/edvin/batchrun/internal/model"
	"github.com/edvin/batchrun/internal/platform"
)

type JobService struct {
	db            DB
	commands      *CommandService
	managedBinary string
}

// NewJobService creates a JobService. managedBinary hosts managed
// subcommands and may be empty when none are used.
func NewJobService(db DB, commands *CommandService, managedBinary string) *JobService {
	return &JobService{db: db, commands: commands, managedBinary: managedBinary}
}

func (s *JobService) validate(ctx context.Context, j *model.Job) error {
	if j.Name == "" {
		return fmt.Errorf("job name is required")
	}
	cmd, err := s.commands.GetByID(ctx, j.CommandID)
	if err != nil {
		return err
	}
	return ValidateArguments(cmd.Parameters, j.Arguments)
}

// Upsert creates the job or updates the one with the same name. Arguments
// are validated against the command's parameter schema.
func (s *JobService) Upsert(ctx context.Context, j *model.Job) error {
	if err := s.validate(ctx, j); err != nil {
		return fmt.Errorf("upsert job %s: %w", j.Name, err)
	}
	if j.Arguments == nil {
		j.Arguments = map[string]any{}
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO batchrun_jobs (id, name, comment, command_id, arguments, retention_policy_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (name) DO UPDATE
		 SET comment = EXCLUDED.comment, command_id = EXCLUDED.command_id, arguments = EXCLUDED.arguments,
		     retention_policy_id = EXCLUDED.retention_policy_id, updated_at = now()
		 RETURNING id, created_at, updated_at`,
		platform.NewID(), j.Name, j.Comment, j.CommandID, j.Arguments, j.RetentionPolicyID,
	).Scan(&j.ID, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", j.Name, err)
	}
	return nil
}

func (s *JobService) GetByID(ctx context.Context, id string) (*model.Job, error) {
	var j model.Job
	err := s.db.QueryRow(ctx,
		`SELECT id, name, comment, command_id, arguments, retention_policy_id, created_at, updated_at
		 FROM batchrun_jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.Name, &j.Comment, &j.CommandID, &j.Arguments, &j.RetentionPolicyID, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "get job %s", id)
	}
	return &j, nil
}

// Argv renders the argv the job's command runs with.
func (s *JobService) Argv(ctx context.Context, jobID string) ([]string, error) {
	j, err := s.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	cmd, err := s.commands.GetByID(ctx, j.CommandID)
	if err != nil {
		return nil, err
	}
	argv, err := RenderArgv(cmd, j.Arguments, s.managedBinary)
	if err != nil {
		return nil, fmt.Errorf("render argv for job %s: %w", j.Name, err)
	}
	return argv, nil
}
