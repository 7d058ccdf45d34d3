package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/batchrun/internal/model"
	"github.com/edvin/batchrun/internal/platform"
)

type CommandService struct {
	db DB
}

func NewCommandService(db DB) *CommandService {
	return &CommandService{db: db}
}

// Upsert creates the command or updates the one with the same kind and
// name, returning its ID in c.ID. A command referenced by a job can only be
// "updated" to identical contents.
func (s *CommandService) Upsert(ctx context.Context, c *model.Command) error {
	if err := ValidateCommand(c); err != nil {
		return fmt.Errorf("upsert command: %w", err)
	}
	if c.Parameters == nil {
		c.Parameters = map[string]model.Parameter{}
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO batchrun_commands (id, kind, name, parameters, parameter_format_string)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (kind, name) DO UPDATE
		 SET parameters = EXCLUDED.parameters, parameter_format_string = EXCLUDED.parameter_format_string, updated_at = now()
		 WHERE NOT EXISTS (SELECT 1 FROM batchrun_jobs j WHERE j.command_id = batchrun_commands.id)
		    OR (batchrun_commands.parameters = EXCLUDED.parameters
		        AND batchrun_commands.parameter_format_string = EXCLUDED.parameter_format_string)
		 RETURNING id, created_at, updated_at`,
		platform.NewID(), c.Kind, c.Name, c.Parameters, c.Template,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("upsert command %s: %w", c.Name, ErrCommandInUse)
	}
	if err != nil {
		return fmt.Errorf("upsert command %s: %w", c.Name, err)
	}
	return nil
}

func (s *CommandService) GetByID(ctx context.Context, id string) (*model.Command, error) {
	var c model.Command
	err := s.db.QueryRow(ctx,
		`SELECT id, kind, name, parameters, parameter_format_string, created_at, updated_at
		 FROM batchrun_commands WHERE id = $1`, id,
	).Scan(&c.ID, &c.Kind, &c.Name, &c.Parameters, &c.Template, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "get command %s", id)
	}
	return &c, nil
}
